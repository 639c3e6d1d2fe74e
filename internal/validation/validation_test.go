/*
 * MIT License
 *
 * Copyright (c) 2022-2025 Arsene Tochemey Gandote
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain(t *testing.T) {
	t.Run("With a valid configuration", func(t *testing.T) {
		err := New().
			Add(Required("Server", "nats://127.0.0.1:4222"), Positive("Timeout", time.Second)).
			Require(true, "unused").
			Validate()
		require.NoError(t, err)
	})
	t.Run("With FailFast", func(t *testing.T) {
		err := New(FailFast()).
			Add(Required("Server", " ")).
			Require(false, "the [Endpoints] must not be empty").
			Validate()
		require.EqualError(t, err, "the [Server] is required")
	})
	t.Run("With AllErrors", func(t *testing.T) {
		chain := New(AllErrors()).
			Add(Required("Server", "")).
			Require(false, "the [SessionTTL] must be at least %s", time.Second)

		err := chain.Validate()
		require.EqualError(t, err, "the [Server] is required; the [SessionTTL] must be at least 1s")
		// a second run reports the same violations, not twice as many
		require.EqualError(t, chain.Validate(), err.Error())
	})
	t.Run("With an empty chain", func(t *testing.T) {
		require.NoError(t, New(FailFast()).Validate())
	})
}

func TestFields(t *testing.T) {
	assert.NoError(t, Required("Server", "nats://127.0.0.1:4222").Validate())
	assert.EqualError(t, Required("Server", "\t").Validate(), "the [Server] is required")

	assert.NoError(t, Positive("Timeout", time.Millisecond).Validate())
	assert.EqualError(t, Positive("Timeout", 0).Validate(), "the [Timeout] must be greater than zero")
	assert.Error(t, Positive("Timeout", -time.Second).Validate())

	assert.NoError(t, AtLeast("SessionTTL", time.Second, time.Second).Validate())
	assert.EqualError(t, AtLeast("SessionTTL", 500*time.Millisecond, time.Second).Validate(),
		"the [SessionTTL] must be at least 1s, got 500ms")
}

func TestSubject(t *testing.T) {
	for _, subject := range []string{"recipes.2pc", "orders", "a.b-c.d_e"} {
		assert.NoError(t, Subject("Subject", subject).Validate(), subject)
	}

	for _, subject := range []string{"", "recipes..2pc", "recipes.*", "recipes.>", "recipes 2pc", ".recipes", "recipes."} {
		assert.Error(t, Subject("Subject", subject).Validate(), subject)
	}
}
