package model_test

import (
	"errors"
	"testing"

	"github.com/CZERTAINLY/cipher-lens/internal/model"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCipherID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		given string
		then  string
	}{
		{"0xc02f", "C02F"},
		{"0XC02F", "C02F"},
		{"C02F", "C02F"},
		{" 0x1301 ", "1301"},
		{"", ""},
	}
	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			require.Equal(t, tc.then, model.NormalizeCipherID(tc.given))
		})
	}
}

func TestStrengthAcceptable(t *testing.T) {
	t.Parallel()
	require.True(t, model.StrengthSecure.Acceptable())
	require.True(t, model.StrengthRecommended.Acceptable())
	require.False(t, model.StrengthWeak.Acceptable())
	require.False(t, model.StrengthInsecure.Acceptable())
	require.False(t, model.Strength("unknown").Acceptable())
	require.False(t, model.Strength("").Acceptable())
}

func TestTLSTarget(t *testing.T) {
	t.Parallel()
	type then struct {
		target model.TLSTarget
		str    string
		dial   string
		err    bool
	}
	cases := []struct {
		scenario string
		host     string
		port     string
		then     then
	}{
		{
			scenario: "ipv4",
			host:     "10.0.0.5",
			port:     "443",
			then: then{
				target: model.TLSTarget{Host: "10.0.0.5", Port: 443},
				str:    "10.0.0.5:443",
				dial:   "10.0.0.5:443",
			},
		},
		{
			scenario: "ipv6",
			host:     "::1",
			port:     "8443",
			then: then{
				target: model.TLSTarget{Host: "::1", Port: 8443},
				str:    "::1:8443",
				dial:   "[::1]:8443",
			},
		},
		{scenario: "port zero", host: "a", port: "0", then: then{err: true}},
		{scenario: "port too big", host: "a", port: "65536", then: then{err: true}},
		{scenario: "port not a number", host: "a", port: "https", then: then{err: true}},
		{scenario: "empty host", host: "", port: "443", then: then{err: true}},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			got, err := model.NewTLSTarget(tc.host, tc.port)
			if tc.then.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then.target, got)
			require.Equal(t, tc.then.str, got.String())
			require.Equal(t, tc.then.dial, got.Dial())
		})
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()
	derr := &model.DocumentError{Path: "a.xml", Err: model.ErrMalformedDocument}
	require.ErrorIs(t, derr, model.ErrMalformedDocument)
	require.Contains(t, derr.Error(), "a.xml")

	uerr := &model.UnknownCipherError{ID: "FFFF", Target: model.TLSTarget{Host: "h", Port: 1}}
	require.ErrorIs(t, uerr, model.ErrUnknownCipherID)
	var target *model.UnknownCipherError
	require.True(t, errors.As(error(uerr), &target))
	require.Equal(t, "FFFF", target.ID)
}
