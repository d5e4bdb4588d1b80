package runtime_test

import (
	"encoding/json"
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

func TestParseAccountID(t *testing.T) {
	valid := []string{"ref", "jumbo", "alice.near", "wrap.testnet", "a-b_c.d", "00"}
	for _, s := range valid {
		_, err := runtime.ParseAccountID(s)
		assert.NoError(t, err)
	}

	invalid := []string{"", "a", "Alice", ".alice", "alice.", "al..ice", "al-.ice", "al ice", "alice@near"}
	for _, s := range invalid {
		_, err := runtime.ParseAccountID(s)
		if err == nil {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestAccountIDUnmarshalJSON(t *testing.T) {
	var id runtime.AccountID
	assert.NoError(t, json.Unmarshal([]byte(`"router.near"`), &id))
	assert.Equal(t, id, runtime.AccountID("router.near"))

	assert.Error(t, json.Unmarshal([]byte(`"Router"`), &id))
	assert.Error(t, json.Unmarshal([]byte(`42`), &id))
}
