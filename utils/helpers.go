package utils

import "strings"

// NormalizeNumber riduce un numero di telefono alle sole cifre, in formato
// internazionale senza prefisso "+" (es. "+91 98765-43210" -> "919876543210")
func NormalizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
