package services

// Difficulty groups quiz questions and sets their point value.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// difficulties lists every tier a daily set must cover.
var difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// Points is the score awarded for answering a question of this difficulty correctly.
func (d Difficulty) Points() int {
	switch d {
	case DifficultyEasy:
		return 10
	case DifficultyMedium:
		return 20
	case DifficultyHard:
		return 30
	default:
		return 0
	}
}

// Question is a quiz item. Answer is the index of the correct option.
type Question struct {
	ID          string
	Difficulty  Difficulty
	Topic       string
	Prompt      string
	Options     []string
	Answer      int
	Explanation string
}

// DefaultQuestionBank returns the built-in insurance literacy questions.
func DefaultQuestionBank() []Question {
	return []Question{
		{
			ID: "auto-001", Difficulty: DifficultyEasy, Topic: "auto",
			Prompt:      "What does third-party liability car insurance cover?",
			Options:     []string{"Damage to your own car", "Damage you cause to others", "Theft of your car", "Roadside assistance"},
			Answer:      1,
			Explanation: "Liability cover pays for injury or damage you cause to other people and their property.",
		},
		{
			ID: "gen-001", Difficulty: DifficultyEasy, Topic: "general",
			Prompt:      "What is an insurance premium?",
			Options:     []string{"The amount paid out on a claim", "The price you pay for cover", "A discount for loyal customers", "The maximum covered amount"},
			Answer:      1,
			Explanation: "The premium is what the policyholder pays, monthly or yearly, to keep the policy active.",
		},
		{
			ID: "gen-002", Difficulty: DifficultyEasy, Topic: "general",
			Prompt:      "Who is the policyholder?",
			Options:     []string{"The insurer's agent", "The person who owns the policy", "The claims adjuster", "The reinsurer"},
			Answer:      1,
			Explanation: "The policyholder owns the contract and is responsible for paying premiums.",
		},
		{
			ID: "home-001", Difficulty: DifficultyEasy, Topic: "home",
			Prompt:      "Which event is typically covered by a standard home fire policy?",
			Options:     []string{"Normal wear and tear", "A kitchen fire", "A lost phone", "A parking fine"},
			Answer:      1,
			Explanation: "Fire damage to the building is the core peril of a home fire policy.",
		},
		{
			ID: "travel-001", Difficulty: DifficultyEasy, Topic: "travel",
			Prompt:      "Travel insurance most commonly covers which of these?",
			Options:     []string{"Medical expenses abroad", "Your mortgage", "Car tax", "Gym membership"},
			Answer:      0,
			Explanation: "Emergency medical costs abroad are the main benefit of most travel policies.",
		},
		{
			ID: "claims-001", Difficulty: DifficultyEasy, Topic: "claims",
			Prompt:      "What should you do first after a car accident with no injuries?",
			Options:     []string{"Leave immediately", "Exchange details and fill in an accident report", "Call a journalist", "Wait a week before reporting"},
			Answer:      1,
			Explanation: "A jointly signed accident report speeds up the claim for both parties.",
		},
		{
			ID: "gen-003", Difficulty: DifficultyMedium, Topic: "general",
			Prompt:      "What is a deductible?",
			Options:     []string{"A tax refund", "The part of a loss you pay before the insurer pays", "A bonus for safe drivers", "The policy's renewal fee"},
			Answer:      1,
			Explanation: "The deductible is borne by the insured; a higher deductible usually lowers the premium.",
		},
		{
			ID: "auto-002", Difficulty: DifficultyMedium, Topic: "auto",
			Prompt:      "A bonus-malus system adjusts your car premium based on what?",
			Options:     []string{"Your car's colour", "Your claims history", "The fuel price", "Your home address only"},
			Answer:      1,
			Explanation: "Claim-free years move you to a better class; at-fault claims move you down.",
		},
		{
			ID: "life-001", Difficulty: DifficultyMedium, Topic: "life",
			Prompt:      "Term life insurance pays out when?",
			Options:     []string{"At any time on request", "If the insured dies within the policy term", "Only at retirement", "When premiums are overdue"},
			Answer:      1,
			Explanation: "Term life covers death during a fixed period and has no savings component.",
		},
		{
			ID: "home-002", Difficulty: DifficultyMedium, Topic: "home",
			Prompt:      "What does 'underinsurance' mean for a home policy?",
			Options:     []string{"The sum insured is lower than the real value", "You have two policies", "The premium was paid late", "The policy covers only contents"},
			Answer:      0,
			Explanation: "When the sum insured is too low, claims can be reduced proportionally.",
		},
		{
			ID: "health-001", Difficulty: DifficultyMedium, Topic: "health",
			Prompt:      "A waiting period in a health policy is…",
			Options:     []string{"The time to answer the phone", "A period after start when some benefits are not yet active", "The renewal notice window", "The claims payment delay"},
			Answer:      1,
			Explanation: "Waiting periods stop people from buying cover only once treatment is already planned.",
		},
		{
			ID: "claims-002", Difficulty: DifficultyMedium, Topic: "claims",
			Prompt:      "Why should you photograph damage before repairs?",
			Options:     []string{"For social media", "To document the loss for the adjuster", "It is required by traffic law", "To get a discount on repairs"},
			Answer:      1,
			Explanation: "Evidence of the original damage helps the adjuster assess the claim quickly.",
		},
		{
			ID: "gen-004", Difficulty: DifficultyHard, Topic: "general",
			Prompt:      "What is subrogation?",
			Options:     []string{"Cancelling a policy mid-term", "The insurer's right to recover a paid loss from the responsible party", "Transferring a policy to a new owner", "Splitting a premium in instalments"},
			Answer:      1,
			Explanation: "After paying you, the insurer steps into your rights against whoever caused the loss.",
		},
		{
			ID: "gen-005", Difficulty: DifficultyHard, Topic: "general",
			Prompt:      "The principle of indemnity means…",
			Options:     []string{"You may profit from a claim", "You are restored to your pre-loss position, no better", "Claims are always paid in full", "The insurer can refuse any claim"},
			Answer:      1,
			Explanation: "Indemnity prevents insurance from becoming a source of profit for the insured.",
		},
		{
			ID: "life-002", Difficulty: DifficultyHard, Topic: "life",
			Prompt:      "In a unit-linked policy, who carries the investment risk?",
			Options:     []string{"The insurer", "The policyholder", "The broker", "The state guarantee fund"},
			Answer:      1,
			Explanation: "Unit-linked benefits follow the value of the underlying funds, so the policyholder bears the risk.",
		},
		{
			ID: "auto-003", Difficulty: DifficultyHard, Topic: "auto",
			Prompt:      "Under direct compensation schemes, who handles your claim when you are not at fault?",
			Options:     []string{"The other driver's insurer only", "Your own insurer", "The police", "A court-appointed expert"},
			Answer:      1,
			Explanation: "Direct compensation lets the innocent party claim from their own insurer, which then settles with the other insurer.",
		},
		{
			ID: "gen-006", Difficulty: DifficultyHard, Topic: "general",
			Prompt:      "What does 'utmost good faith' require from the applicant?",
			Options:     []string{"Paying premiums early", "Disclosing all material facts", "Choosing the most expensive cover", "Using an approved repair shop"},
			Answer:      1,
			Explanation: "Failing to disclose material facts can let the insurer void the policy.",
		},
		{
			ID: "home-003", Difficulty: DifficultyHard, Topic: "home",
			Prompt:      "Cover on a 'first loss' basis means…",
			Options:     []string{"Only the first claim per year is paid", "Losses are paid up to the limit without proportional reduction", "The deductible applies twice", "Only new-for-old replacement is allowed"},
			Answer:      1,
			Explanation: "First-loss cover ignores underinsurance up to the agreed limit.",
		},
	}
}
