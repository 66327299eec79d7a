// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package classify

import "bytes"

// sqlCommands are the statement keywords the classifier recognizes.
var sqlCommands = [][]byte{
	[]byte("ALTER"),
	[]byte("CREATE"),
	[]byte("DELETE"),
	[]byte("DROP"),
	[]byte("INSERT"),
	[]byte("SELECT"),
	[]byte("UPDATE"),
}

// IsSQLCommand reports whether the payload starts with a SQL statement
// keyword. Pure prefix matching: this feeds a traffic-mix counter, not
// any parsing decision.
func IsSQLCommand(buf []byte) bool {
	for _, cmd := range sqlCommands {
		if len(buf) >= len(cmd) && bytes.Equal(buf[:len(cmd)], cmd) {
			return true
		}
	}
	return false
}
