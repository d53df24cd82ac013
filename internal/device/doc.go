// Package device holds the output drivers of a node and the Responder that
// reacts to host events with them.
//
// Drivers are plain objects owned by the Responder: a 16x2 character display
// rendered through the logger or as desktop notifications, and a buzzer that
// repeats a short on/off beep pattern.
package device
