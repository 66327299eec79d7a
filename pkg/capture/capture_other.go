// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux

package capture

import "errors"

func newLiveCapturer(_ *Config) (Capturer, error) {
	return nil, errors.New("capture: live capture requires linux (use a pcap file on this platform)")
}
