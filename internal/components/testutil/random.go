package testutil

import (
	"fmt"
	"math/rand"
)

// RandomSwitch returns a function that will output various integers at different weights.
//
// Ex. RandomSwitch(2, 3, 5) will return a function that will output:
//   - `0` 20% of the time
//   - `1` 30% of the time
//   - `2` 50% of the time
func RandomSwitch(weights ...int) func(rndm *rand.Rand) int {
	if len(weights) == 0 {
		panic("a random switch must have at least 1 probability")
	}

	var sum int
	for _, p := range weights {
		if p == 0 {
			panic("cannot have weight that is 0")
		}
		sum += p
	}

	return func(rndm *rand.Rand) int {
		value := rndm.Intn(sum)

		threshold := 0
		for i := 0; i < len(weights); i++ {
			threshold += weights[i]
			if value < threshold {
				return i
			}
		}

		panic(fmt.Sprintf("random value generated was out of bounds: %d", value))
	}
}

// RandomString generates a random lowercase string given the pseudo random source.
func RandomString(rndm *rand.Rand, length int) string {
	str := make([]rune, length)
	for i := range length {
		str[i] = 'a' + rune(rndm.Intn(26))
	}
	return string(str)
}

var categorySize = RandomSwitch(2, 3, 3, 2)

// RandomCategory generates the item texts of one scenario category. Sizes
// are skewed so that empty categories and ones spanning several groups
// both show up often.
func RandomCategory(rndm *rand.Rand) []string {
	var count int
	switch categorySize(rndm) {
	case 0:
		count = 0
	case 1:
		count = 1 + rndm.Intn(3)
	case 2:
		count = 4 + rndm.Intn(6)
	case 3:
		count = 10 + rndm.Intn(15)
	}

	texts := make([]string, count)
	for i := range texts {
		texts[i] = RandomString(rndm, 1+rndm.Intn(12))
	}
	return texts
}
