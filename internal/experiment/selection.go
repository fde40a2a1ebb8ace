package experiment

// selectionRounds is the fixed number of rounds in the selective phase.
const selectionRounds = 2

// RoundEvaluator scores discrete selections against the expected answer set
// of the current round. Repeated answers count as separate attempts.
type RoundEvaluator struct {
	rounds  [][]int
	current int

	expected  map[int]struct{}
	received  []int
	correct   int
	incorrect int

	results []RoundResult
}

func NewRoundEvaluator(rounds [][]int) *RoundEvaluator {
	e := &RoundEvaluator{rounds: rounds}
	e.open(0)
	return e
}

func (e *RoundEvaluator) open(i int) {
	e.current = i
	e.received = nil
	e.correct, e.incorrect = 0, 0
	e.expected = make(map[int]struct{})
	if i < len(e.rounds) {
		for _, a := range e.rounds[i] {
			e.expected[a] = struct{}{}
		}
	}
}

// Round is the 1-based number of the open round.
func (e *RoundEvaluator) Round() int { return e.current + 1 }

// ExpectedCount is the number of distinct expected answers of the open round.
func (e *RoundEvaluator) ExpectedCount() int { return len(e.expected) }

// Done reports whether every round has closed.
func (e *RoundEvaluator) Done() bool { return e.current >= len(e.rounds) }

func (e *RoundEvaluator) Results() []RoundResult { return e.results }

// Submit scores one answer. When the received count reaches the expected
// count the round closes and the next one opens.
func (e *RoundEvaluator) Submit(answer int) SelectionResult {
	if e.Done() {
		return SelectionResult{}
	}
	_, ok := e.expected[answer]
	if ok {
		e.correct++
	} else {
		e.incorrect++
	}
	e.received = append(e.received, answer)

	res := SelectionResult{
		Round:          e.Round(),
		Answer:         answer,
		Correct:        ok,
		CorrectCount:   e.correct,
		IncorrectCount: e.incorrect,
		Received:       len(e.received),
		Expected:       len(e.expected),
	}
	if len(e.received) == len(e.expected) {
		res.RoundClosed = true
		e.results = append(e.results, RoundResult{
			Round:          e.Round(),
			Expected:       append([]int(nil), e.rounds[e.current]...),
			Received:       append([]int(nil), e.received...),
			CorrectCount:   e.correct,
			IncorrectCount: e.incorrect,
		})
		e.open(e.current + 1)
	}
	return res
}
