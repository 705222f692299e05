/*
Package blocksync implements the block builder and block synchronizer: the
acquisition-state machine that walks a single block through the fixed
sequence NeedHeader → NeedApprovalsHashes → NeedBody → (NeedExecutionResults
→ NeedGlobalState, for historical blocks only) → NeedFinalitySignatures →
Complete, and the synchronizer that owns up to two such builders (one
forward, one historical) and drives them on a set of independent ticks.

A builder never blocks waiting on a peer. It publishes a need-next
descriptor describing what it needs fetched next; the synchronizer
dispatches the fetch and feeds the response back in on a later tick. A
latch — a timestamp plus an in-flight counter, not a mutex — prevents the
same need-next from being dispatched twice while a response is pending.

There is a forward builder, which targets blocks above the local tip and
stops once it has an executed header (execution itself is the contract
runtime collaborator's job), and a historical builder, which additionally
acquires execution results and the full global-state trie rooted at
state_root_hash, fetched recursively with deduplication against
already-resident trie nodes.
*/
package blocksync
