package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("SEMS2MQTT")
	assert.NoError(err)
	assert.Equal("sems2mqtt", topic)

	_, err = CheckMQTTTopic("sems/2mqtt")
	assert.Error(err)

	_, err = CheckMQTTTopic("")
	assert.Error(err)
}

func TestCheckAccounts(t *testing.T) {

	assert := assert.New(t)

	assert.Error(CheckAccounts(nil))
	assert.Error(CheckAccounts([]AccountConfig{{Email: "a@example.com"}}))
	assert.Error(CheckAccounts([]AccountConfig{
		{Email: "a@example.com", Password: "x"},
		{Email: "A@example.com", Password: "y"},
	}), "duplicated email")
	assert.NoError(CheckAccounts([]AccountConfig{
		{Email: "a@example.com", Password: "x"},
		{Email: "b@example.com", Password: "y"},
	}))
}

func TestAccountLabel(t *testing.T) {
	assert.Equal(t, "home", AccountConfig{Name: "home", Email: "a@example.com"}.Label())
	assert.Equal(t, "a@example.com", AccountConfig{Email: "a@example.com"}.Label())
}
