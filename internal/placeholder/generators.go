package placeholder

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator produces a value for a {{name}} placeholder
type Generator func(rnd *rand.Rand) string

const letters = "abcdefghijklmnopqrstuvwxyz"

func defaultGenerators() map[string]Generator {
	return map[string]Generator{
		"randomemail":  RandomEmail,
		"randomnumber": RandomNumber,
		"randomname":   RandomName,
		"uuid":         func(*rand.Rand) string { return uuid.NewString() },
		"timestamp":    func(*rand.Rand) string { return time.Now().UTC().Format(time.RFC3339) },
	}
}

// RandomEmail returns test<32 hex chars>@yopmail.com
func RandomEmail(*rand.Rand) string {
	return "test" + strings.ReplaceAll(uuid.NewString(), "-", "") + "@yopmail.com"
}

// RandomNumber returns an integer in [0, 1000)
func RandomNumber(rnd *rand.Rand) string {
	return strconv.Itoa(rnd.IntN(1000))
}

// RandomName returns ten lowercase ASCII letters
func RandomName(rnd *rand.Rand) string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = letters[rnd.IntN(len(letters))]
	}
	return string(b)
}
