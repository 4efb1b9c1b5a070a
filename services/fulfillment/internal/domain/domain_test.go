package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masukomi/licensezero.com/pkg/signature"
)

func TestOrderExpiresAfterTTL(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := Order{Date: created}
	assert.False(t, o.Expired(created.Add(OrderTTL), OrderTTL))
	assert.True(t, o.Expired(created.Add(OrderTTL+time.Millisecond), OrderTTL))
}

func TestCollectViolationsNamesProjectsInOrder(t *testing.T) {
	now := time.Now()
	err := CollectViolations([]Project{
		{ProjectID: "a", Retracted: true},
		{ProjectID: "b"},
		{ProjectID: "c", Retracted: true},
		{ProjectID: "d", Relicensed: &now},
	})
	require.Error(t, err)
	assert.True(t, IsRuleViolation(err))
	assert.Equal(t, "retracted projects: a, c", err.Error())

	err = CollectViolations([]Project{{ProjectID: "d", Relicensed: &now}})
	assert.Equal(t, "relicensed projects: d", err.Error())
	assert.NoError(t, CollectViolations([]Project{{ProjectID: "b"}}))
}

func TestErrorKindsSurviveWrapping(t *testing.T) {
	nf := fmt.Errorf("pay: %w", &NotFoundError{What: "project", IDs: []string{"x"}})
	assert.True(t, IsNotFound(nf))
	assert.Equal(t, "pay: no such project: x", nf.Error())

	v := &ValidationError{}
	assert.NoError(t, v.OrNil())
	v.Add("terms", "You must accept the terms to continue.")
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", v.OrNil())))
	assert.False(t, IsValidation(errors.New("plain")))
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "$5.00", FormatPrice(500))
	assert.Equal(t, "$1,000.00", FormatPrice(100000))
	assert.Equal(t, "$1,234,567.89", FormatPrice(123456789))
	assert.Equal(t, "$0.07", FormatPrice(7))
}

func TestLicenseVerify(t *testing.T) {
	keys, err := signature.GenerateKeyPair()
	require.NoError(t, err)
	sig, err := signature.SignDocument("{}", "doc", keys)
	require.NoError(t, err)
	l := License{ProjectID: "p", Manifest: "{}", Document: "doc", PublicKey: keys.PublicKey, Signature: sig}
	assert.True(t, l.Verify())
	l.Document = "tampered"
	assert.False(t, l.Verify())
}
