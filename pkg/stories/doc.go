// Package stories keeps parsed ink stories synchronized with their source text.
//
// A host tracks content handles with Runtime.BeginTracking and receives a Key
// for each. Every tick the runtime runs two drivers in order:
//
//   - the Poller absorbs newly tracked keys, waits for their content and
//     performs the first parse, after which the key is ready;
//   - the Reloader drains change notifications from the content source and
//     re-parses every key whose content changed.
//
// Parsed stories live in a Registry. A key is present there only after a
// successful parse, and a failed parse never disturbs the story already
// stored, so a broken edit leaves the last good version playable.
//
// The Runtime is the single writer. Tick and the consumer operations
// (CanContinue, CurrentChoices, Choose, Advance) share one mutex, so a
// consumer never sees a story mid-replacement. Events produced by a tick are
// queued and handed to listeners by Dispatch, outside the lock:
//
//	rt, err := stories.New(stories.Options{Source: store, Logger: logger})
//	if err != nil {
//		return err
//	}
//	rt.Subscribe(func(ev stories.Event) {
//		if ev.Kind == stories.EventReloaded {
//			logger.Info().Stringer("key", ev.Key).Msg("Story reloaded")
//		}
//	})
//	key := rt.BeginTracking(store.Load("intro.ink"))
//	go rt.Run(ctx, 50*time.Millisecond)
//
// Errors returned by consumer operations are *Error values classified by
// ErrorKind; use IsKeyUnknown, IsNotLoaded and friends, or errors.Is with the
// Err* sentinels.
package stories
