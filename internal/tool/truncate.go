package tool

import "fmt"

// MaxResponseBytes is the 160 KB ceiling on a tool response; anything
// larger is truncated by keeping the first and last halves.
const MaxResponseBytes = 160 * 1024

// HalfBytes is how much of the head and tail is kept when truncating: 80 KB
// each side of the omitted-bytes marker.
const HalfBytes = MaxResponseBytes / 2

// Truncate keeps the first and last HalfBytes of response, separated by an
// omitted-bytes marker, when response exceeds MaxResponseBytes.
func Truncate(response string) string {
	if len(response) <= MaxResponseBytes {
		return response
	}
	head := response[:HalfBytes]
	tail := response[len(response)-HalfBytes:]
	omitted := len(response) - 2*HalfBytes
	return fmt.Sprintf("%s\n... [%d bytes omitted] ...\n%s", head, omitted, tail)
}
