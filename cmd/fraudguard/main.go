// FraudGuard - Rule-driven fraud screening for card transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command fraudguard runs the fraud screening service and offers offline
// tooling for the rule language.
//
// Usage:
//
//	# Start the API server
//	fraudguard serve --config fraudguard.yaml
//
//	# Check a rule and print its canonical form
//	fraudguard validate "amount > 1000 AND currency != 'USD'"
//
//	# Evaluate a rule against ad-hoc facts
//	fraudguard eval "user.age < 21" --fact user.age=19
//
//	# Measure detection quality against labelled transactions
//	fraudguard bench --csv labelled.csv --rules rules.txt
package main

func main() {
	Execute()
}
