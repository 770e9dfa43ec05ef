// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command camel compiles and runs agent plans under capability-based
// policies.
package main

func main() {
	Execute()
}
