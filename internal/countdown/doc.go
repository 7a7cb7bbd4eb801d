// Package countdown implements the live countdown: progress math over a
// fixed epoch, label formatting, the session registry, and the service
// that keeps one auto-updating message per chat.
//
// The message body stays constant; the remaining time and progress bar
// live on two inert inline buttons that are re-rendered in place.
package countdown
