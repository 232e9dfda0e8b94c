// Package gamemode maps the wire mode code to its canonical name (GLOSSARY).
package gamemode

var names = map[int]string{
	1:  "battle",
	2:  "treasure",
	3:  "ctf",
	4:  "race",
	5:  "coop",
	6:  "roasttag",
	7:  "lrs",
	8:  "xlrs",
	9:  "pestilence",
	10: "teambattle",
	11: "jailbreak",
	12: "deathctf",
	13: "flagrun",
	14: "tlrs",
	15: "domination",
	16: "headhunters",
}

// Decode maps a mode code to its canonical name, or "unknown" if unmapped.
func Decode(code int) string {
	if name, ok := names[code]; ok {
		return name
	}
	return "unknown"
}
