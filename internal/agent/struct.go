package agent

// Evaluation is the model's judgement of whether assembled context answers
// the question.
type Evaluation struct {
	// Sufficient is true when no further searching is needed.
	Sufficient bool `json:"sufficient"`
	// FollowUps holds at most two suggested follow-up search queries.
	FollowUps []string `json:"followUpQueries"`
}

// Relevance lists which candidate notes the model judged relevant, by the
// zero-based index they were presented with.
type Relevance struct {
	// Relevant holds the indices of relevant candidates.
	Relevant []int `json:"relevant"`
}

// Continuity is the model's judgement of how a new question relates to the
// previous turn.
type Continuity struct {
	// Continuation is true when the question follows on from the previous one.
	Continuation bool `json:"continuation"`
	// NeedsMoreInfo is true when the notes used last turn are not enough.
	NeedsMoreInfo bool `json:"needsMoreInfo"`
	// Query is an optional targeted search for the missing information.
	Query string `json:"searchQuery"`
}

// evaluationWire mirrors Evaluation with pointer fields so a decode that
// lacks the required key is rejected rather than read as false.
type evaluationWire struct {
	Sufficient *bool    `json:"sufficient"`
	FollowUps  []string `json:"followUpQueries"`
}

type relevanceWire struct {
	Relevant *[]int `json:"relevant"`
}

type continuityWire struct {
	Continuation  *bool  `json:"continuation"`
	NeedsMoreInfo *bool  `json:"needsMoreInfo"`
	Query         string `json:"searchQuery"`
}
