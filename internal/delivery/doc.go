// Package delivery hands accepted contact messages to wherever they are read
// from. Messages reach a Sink only after the submission guard has let them
// through, a failed delivery does not give the visitor their slot back.
package delivery
