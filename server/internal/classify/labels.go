package classify

import "fmt"

// Label set names accepted in configuration.
const (
	LabelsUpper            = "upper"
	LabelsLower            = "lower"
	LabelsEnglishMalayalam = "english_malayalam"
)

var malayalam = []string{
	"അ", "ആ", "ഇ", "ഈ", "ഉ", "ഊ", "ഋ", "എ", "ഏ", "ഐ",
	"ഒ", "ഓ", "ഔ", "ക", "ഖ", "ഗ", "ഘ", "ങ", "ച", "ഛ",
	"ജ", "ഝ", "ഞ", "ട", "ഠ", "ഡ", "ഢ", "ണ", "ത", "ഥ",
	"ദ", "ധ", "ന", "പ", "ഫ", "ബ", "ഭ", "മ", "യ", "ര",
	"ല", "വ", "ശ", "ഷ", "സ", "ഹ", "ള", "ഴ", "റ",
}

// Labels returns the index-to-character mapping for the named set.
func Labels(name string) ([]string, error) {
	switch name {
	case LabelsUpper, "":
		return letters('A'), nil
	case LabelsLower:
		return letters('a'), nil
	case LabelsEnglishMalayalam:
		out := append(letters('A'), letters('a')...)
		return append(out, malayalam...), nil
	default:
		return nil, fmt.Errorf("classify: unknown label set %q", name)
	}
}

func letters(first rune) []string {
	out := make([]string, 26)
	for i := range out {
		out[i] = string(first + rune(i))
	}
	return out
}
