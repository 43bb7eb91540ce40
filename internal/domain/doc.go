// Package domain contains the points ledger's business types, sentinel
// errors, and the store and publisher contracts. It has no infrastructure
// imports.
package domain
