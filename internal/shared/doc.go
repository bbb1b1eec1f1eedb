// Package shared groups helpers used by more than one package. It holds no
// license logic; see the testutil subpackage.
package shared
