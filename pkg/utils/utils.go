package utils

import (
	"math/rand"
	"time"
	"unicode/utf8"
)

var colors = []string{
	"white", "black", "red", "maroon", "yellow", "lime", "green", "aqua", "teal", "blue", "navy", "fuchsia", "purple",
}

func init() {
	rand.Seed(time.Now().UnixNano())
}

func InArray(arr []string, val string) bool {
	for _, s := range arr {
		if s == val {
			return true
		}
	}
	return false
}

func IsLengthValid(str string, minLen, maxLen int) bool {
	length := utf8.RuneCountInString(str)
	return length >= minLen && length <= maxLen
}

func GetRandomColor() string {
	return colors[rand.Intn(len(colors))]
}
