package gateway

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/finepay/internal/platform/i18n"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/types"
)

func testTranslator() *i18n.Translator {
	return i18n.New(&config.Config{
		Locale: config.LocaleConfig{Default: "en"},
		Translations: map[string]map[string]string{
			"en": {"fine_type.overdue": "Overdue fine"},
			"fi": {"fine_type.overdue": "Myöhästymismaksu"},
		},
	})
}

func TestParseMappings(t *testing.T) {
	got := ParseMappings("overdue=OD: lost = LOST :broken:=x:y=")
	assert.Equal(t, map[string]string{"overdue": "OD", "lost": "LOST"}, got)
	assert.Empty(t, ParseMappings(""))
}

func TestFineProductCode(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.OnlinePaymentConfig
		fine *types.Fine
		want string
		ok   bool
	}{
		{
			name: "nothing configured",
			fine: &types.Fine{Type: "overdue"},
		},
		{
			name: "fine code wins",
			cfg:  config.OnlinePaymentConfig{ProductCode: "DEF", ProductCodeMappings: "overdue=OD"},
			fine: &types.Fine{Type: "overdue", ProductCode: "OWN"},
			want: "OWN", ok: true,
		},
		{
			name: "type mapping",
			cfg:  config.OnlinePaymentConfig{ProductCode: "DEF", ProductCodeMappings: "overdue=OD"},
			fine: &types.Fine{Type: "overdue"},
			want: "OD", ok: true,
		},
		{
			name: "default code",
			cfg:  config.OnlinePaymentConfig{ProductCode: "DEF", ProductCodeMappings: "overdue=OD"},
			fine: &types.Fine{Type: "lost"},
			want: "DEF", ok: true,
		},
		{
			name: "raw type with organization prefix",
			cfg:  config.OnlinePaymentConfig{OrganizationProductCodePrefixMappings: "lib1=L1_"},
			fine: &types.Fine{Type: "lost", Organization: "lib1"},
			want: "L1_lost", ok: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBase("x", &tt.cfg, Deps{})
			got, ok := b.FineProductCode(tt.fine)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFineDescription(t *testing.T) {
	b := newBase("x", &config.OnlinePaymentConfig{}, Deps{Translator: testTranslator()})

	assert.Equal(t, "Own text", b.FineDescription(&types.Fine{Description: "Own text", Type: "overdue"}, 100, "en"))
	assert.Equal(t, "Overdue fine (Moby Dick)", b.FineDescription(&types.Fine{Type: "overdue", Title: "Moby Dick"}, 100, "en"))
	assert.Equal(t, "Myöhästymismaksu", b.FineDescription(&types.Fine{Type: "overdue"}, 100, "fi-FI"))
	assert.Equal(t, "unknown", b.FineDescription(&types.Fine{Type: "unknown"}, 100, "en"))

	// No room for the title.
	assert.Equal(t, "Overdue fine", b.FineDescription(&types.Fine{Type: "overdue", Title: "Moby Dick"}, 14, "en"))
	assert.Equal(t, "Overdue fine (Mob)", b.FineDescription(&types.Fine{Type: "overdue", Title: "Moby Dick"}, 19, "en"))
	assert.Len(t, []rune(b.FineDescription(&types.Fine{Description: "ääääääääää"}, 4, "en")), 4)
}

func TestTruncate_RuneSafe(t *testing.T) {
	assert.Equal(t, "äö", truncate("äöå", 2))
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "", truncate("abc", 0))
}

func TestAddQueryParams(t *testing.T) {
	assert.Equal(t, "https://x/r?a=1", AddQueryParams("https://x/r", url.Values{"a": {"1"}}))
	assert.Equal(t, "https://x/r?b=2&a=1", AddQueryParams("https://x/r?b=2", url.Values{"a": {"1"}}))
	assert.Equal(t, "https://x/r", AddQueryParams("https://x/r", nil))
}

func TestGenerateLocalIdentifier_Unique(t *testing.T) {
	now := time.Now()
	a, err := GenerateLocalIdentifier("lib.patron", now)
	require.NoError(t, err)
	b, err := GenerateLocalIdentifier("lib.patron", now)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestCurrencyAndServiceFee(t *testing.T) {
	b := newBase("x", &config.OnlinePaymentConfig{Currency: "eur", ServiceFee: -5}, Deps{})
	assert.Equal(t, "EUR", b.currency())
	assert.Equal(t, int64(0), b.serviceFee())

	b = newBase("x", &config.OnlinePaymentConfig{ProductCode: "DEF"}, Deps{})
	assert.Equal(t, "USD", b.currency())
	assert.Equal(t, "DEF", b.serviceFeeProductCode())
}

func TestMessageKey(t *testing.T) {
	err := newPaymentError(KeySignature, ErrSignature)
	wrapped := errors.Join(errors.New("ctx"), err)
	assert.Equal(t, KeySignature, MessageKey(wrapped))
	assert.ErrorIs(t, wrapped, ErrSignature)
	assert.Equal(t, KeyGeneral, MessageKey(errors.New("plain")))
}
