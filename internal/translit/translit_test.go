package translit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransliterate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Иванов", "Ivanov"},
		{"Щукина", "Shchukina"},
		{"Юлия", "Yuliya"},
		{"Жёлудев", "Zheludev"},
		{"Подъячев", "Podyachev"},
		{"Хрущёв", "Khrushchev"},
		{"Ґалина", "Galina"},
		{"Smith", "Smith"},
		{"O'Брайен", "O'Brayen"},
		{"Анна-Мария", "Anna-Mariya"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Transliterate(tt.in))
		})
	}
}

func TestTransliterateDecomposedInput(t *testing.T) {
	// "и" followed by a combining breve is "й" in NFD form.
	assert.Equal(t, "Sergey", Transliterate("Серге\u0438\u0306"))
}

func TestUsername(t *testing.T) {
	assert.Equal(t, "ivan.ivanov", Username("Иван", "Иванов"))
	assert.Equal(t, "john.smith", Username("John", "Smith"))
	assert.Equal(t, "ivan.ivanov", Username("ИВАН", "иванов"))
}

func TestTransliterateIsDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Equal(t, "Petr Petrov", Transliterate("Петр Петров"))
	}
}
