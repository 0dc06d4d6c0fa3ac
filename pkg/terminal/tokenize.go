package terminal

import (
	"encoding/hex"
	"strings"
)

// tokenize splits a command line in a verb and its arguments. Tokens are
// separated by white space, empty tokens are dropped. rest is what follows
// the verb, trimmed, and is used by commands taking an expression.
func tokenize(line string) (verb string, args []string, rest string) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, ""
	}
	verb = fields[0]
	return verb, fields[1:], strings.TrimSpace(line[len(verb):])
}

// printableVerb returns verb, hex encoded if it contains anything but
// printable ASCII.
func printableVerb(verb string) string {
	for i := 0; i < len(verb); i++ {
		if verb[i] < 0x20 || verb[i] > 0x7e {
			return hex.EncodeToString([]byte(verb))
		}
	}
	return verb
}
