// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package procapi

import "strings"

// SplitCommandLine splits a command line into arguments using the Microsoft
// C runtime rules: whitespace separates arguments outside double quotes, and
// backslashes are literal unless they precede a quote.
func SplitCommandLine(s string) []string {
	var (
		args    []string
		b       strings.Builder
		quoted  bool
		inArg   bool
		slashes int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			slashes++
			inArg = true
			continue
		case '"':
			b.WriteString(strings.Repeat(`\`, slashes/2))
			if slashes%2 == 1 {
				b.WriteByte('"')
			} else {
				quoted = !quoted
			}
			slashes = 0
			inArg = true
			continue
		}

		b.WriteString(strings.Repeat(`\`, slashes))
		slashes = 0
		if (c == ' ' || c == '\t') && !quoted {
			if inArg {
				args = append(args, b.String())
				b.Reset()
				inArg = false
			}
			continue
		}
		b.WriteByte(c)
		inArg = true
	}
	b.WriteString(strings.Repeat(`\`, slashes))
	if inArg {
		args = append(args, b.String())
	}
	return args
}

// ComposeCommandLine joins args so that SplitCommandLine returns them intact.
func ComposeCommandLine(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteArg(a)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}

	var b strings.Builder
	b.WriteByte('"')
	slashes := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			slashes++
			continue
		case '"':
			b.WriteString(strings.Repeat(`\`, 2*slashes+1))
			b.WriteByte('"')
		default:
			b.WriteString(strings.Repeat(`\`, slashes))
			b.WriteByte(c)
		}
		slashes = 0
	}
	b.WriteString(strings.Repeat(`\`, 2*slashes))
	b.WriteByte('"')
	return b.String()
}
