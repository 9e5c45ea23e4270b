package classify

import (
	"testing"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
	"github.com/stretchr/testify/assert"
)

func testKeywords() config.ClassifierKeywords {
	return config.DefaultConfig().Messages.Classifier
}

func TestClassify_Command(t *testing.T) {
	c := Classify("!help me", testKeywords(), []string{"!", "/"})
	assert.Equal(t, domain.KindCommand, c.Primary)
	assert.Equal(t, 0.95, c.Confidence)
}

func TestClassify_CommandPrefixAloneIsNotACommand(t *testing.T) {
	c := Classify("!", testKeywords(), []string{"!", "/"})
	assert.NotEqual(t, domain.KindCommand, c.Primary)
}

func TestClassify_Greeting(t *testing.T) {
	c := Classify("Hola buenos dias", testKeywords(), []string{"!"})
	assert.Equal(t, domain.KindGreeting, c.Primary)
	assert.True(t, c.Has(domain.KindGreeting))
}

func TestClassify_GreetingIsDiacriticInsensitive(t *testing.T) {
	c := Classify("¡HOLA!", testKeywords(), []string{"!"})
	assert.Equal(t, domain.KindGreeting, c.Primary)
}

func TestClassify_Farewell(t *testing.T) {
	c := Classify("bueno, adios", testKeywords(), []string{"!"})
	assert.Equal(t, domain.KindFarewell, c.Primary)
}

func TestClassify_Question(t *testing.T) {
	c := Classify("como estas?", testKeywords(), []string{"!"})
	assert.Equal(t, domain.KindQuestion, c.Primary)
}

func TestClassify_Help(t *testing.T) {
	c := Classify("necesito ayuda por favor", testKeywords(), []string{"!"})
	assert.Equal(t, domain.KindHelp, c.Primary)
}

func TestClassify_PriorityOrderGreetingBeatsFarewell(t *testing.T) {
	c := Classify("hola y adios", testKeywords(), []string{"!"})
	assert.Equal(t, domain.KindGreeting, c.Primary)
	assert.True(t, c.Has(domain.KindFarewell))
}

func TestClassify_Contextual(t *testing.T) {
	c := Classify("estoy un poco triste hoy", testKeywords(), []string{"!"})
	assert.Equal(t, domain.KindContextual, c.Primary)
}

func TestClassify_Unknown(t *testing.T) {
	c := Classify("xyzzy plugh quux", testKeywords(), []string{"!"})
	assert.Equal(t, domain.KindUnknown, c.Primary)
	assert.Equal(t, 0.0, c.Confidence)
}

func TestClassify_ConfidenceClippedToRange(t *testing.T) {
	c := Classify("hola", testKeywords(), []string{"!"})
	assert.GreaterOrEqual(t, c.Confidence, 0.5)
	assert.LessOrEqual(t, c.Confidence, 0.95)
}

func TestClassify_Sentiment(t *testing.T) {
	positive := Classify("gracias, que genial", testKeywords(), []string{"!"})
	assert.Equal(t, domain.SentimentPositive, positive.Sentiment)

	negative := Classify("esto es terrible, odio esto", testKeywords(), []string{"!"})
	assert.Equal(t, domain.SentimentNegative, negative.Sentiment)

	neutral := Classify("el cielo es azul", testKeywords(), []string{"!"})
	assert.Equal(t, domain.SentimentNeutral, neutral.Sentiment)
}
