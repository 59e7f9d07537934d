package llm

// Snapshot is one step of a streaming generation.
type Snapshot struct {
	// Text is everything generated so far.
	Text string `json:"content"`

	// Delta is the fragment appended by this step.
	Delta string `json:"delta,omitempty"`
}
