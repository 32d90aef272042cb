// Package gate implements the per-conversation isolation primitive.
//
// Every worker that processes an event for a conversation brackets its work
// with Gate.Enter and Gate.Exit. A worker that needs the conversation to
// itself calls Gate.TryEnterExclusive:
//
//   - The attempt never waits for another contender. If a second attempt is
//     already in flight, or an exclusive session is already held, it returns
//     ErrExclusivityDenied immediately.
//   - On success it blocks until every other running worker has exited
//     (the drain), then returns a Session.
//   - While the session is held, Enter blocks, so no ordinary work starts
//     alongside it. Session.Release lets them through again.
//
// Workers that are themselves inside TryEnterExclusive when the drain is
// evaluated do not count toward it; they are about to be denied and would
// otherwise leave the holder waiting on a worker that is waiting on the holder.
//
// The gate is a single-process primitive: no queuing, no fairness, no
// priority.
package gate
