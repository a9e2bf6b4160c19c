package internal

// BlocksToProvision returns how many of the requested blocks fit under maxBlocks
// given the blocks already tracked. Never negative.
func BlocksToProvision(maxBlocks, existingBlocks, requested int) int {
	return max(0, min(requested, maxBlocks-existingBlocks))
}

// BlocksToInit returns how many blocks must be requested so that at least
// initBlocks live blocks exist. Blocks adopted or restored from a previous run
// count as live, so a restart does not provision the initial pool twice.
func BlocksToInit(initBlocks, liveBlocks int) int {
	return max(0, initBlocks-liveBlocks)
}
