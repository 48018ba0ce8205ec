// Package note groups tasks by the social-media note their resources came
// from. It creates image and video tasks for a note record, keeps the
// note-to-task relation, derives the note's aggregate status from its
// tasks, and stitches finished results back into per-note text.
package note
