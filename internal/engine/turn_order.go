package engine

const DefaultPlayerCount = 2

// NextTurn cycles 1..playerCount.
func NextTurn(current, playerCount int) int {
	if playerCount <= 0 {
		playerCount = DefaultPlayerCount
	}
	return (current % playerCount) + 1
}
