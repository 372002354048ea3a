// Package notifications pushes stage milestones to an operator's phone or
// desktop through ntfy.
//
// Only three moments are reported: speech recognition finished (the file is
// ready for manual transcription), word alignment finished (phonetic detail
// can be opened), and any stage failure. When no topic is configured the
// package returns a no-op Service so scheduler code never checks for nil.
package notifications
