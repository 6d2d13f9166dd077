package auth

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

func TestParseCookies_JSON(t *testing.T) {
	blob := `[
		{"name": "access_token", "value": "a=b=c", "domain": "www.kleinanzeigen.de", "path": "/", "secure": false, "httpOnly": true, "expirationDate": 1893456000},
		{"name": "lang", "value": "de", "expires": "2030-01-01T00:00:00Z"},
		{"name": "", "value": "nameless"}
	]`

	got := ParseCookies(blob, "")
	require.Len(t, got, 2)

	exp1 := time.Unix(1893456000, 0).UTC()
	exp2 := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	want := []schemas.Cookie{
		{Name: "access_token", Value: "a=b=c", Domain: "www.kleinanzeigen.de", Path: "/", Secure: false, HTTPOnly: true, Expires: &exp1},
		{Name: "lang", Value: "de", Domain: DefaultCookieDomain, Path: "/", Secure: true, Expires: &exp2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseCookies() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCookies_Lines(t *testing.T) {
	blob := "access_token=abc==\r\n" +
		"Set-Cookie: session=xyz; Path=/; Domain=.example.com; Expires=Wed, 21 Oct 2030 07:28:00 GMT; Secure; HttpOnly\n" +
		"Cookie: a=1; b=2\n" +
		"# a comment\n" +
		"not a cookie line\n"

	got := ParseCookies(blob, ".kleinanzeigen.de")
	names := make([]string, 0, len(got))
	for _, c := range got {
		names = append(names, c.Name+"="+c.Value)
		assert.Equal(t, ".kleinanzeigen.de", c.Domain)
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.Secure)
	}
	assert.Equal(t, []string{"access_token=abc==", "session=xyz", "a=1", "b=2"}, names)
}

func TestParseCookies_Netscape(t *testing.T) {
	blob := "# Netscape HTTP Cookie File\n" +
		".kleinanzeigen.de\tTRUE\t/\tTRUE\t1893456000\taccess_token\tabc\n" +
		"#HttpOnly_.kleinanzeigen.de\tTRUE\t/\tFALSE\t0\trefresh\tdef\n"

	got := ParseCookies(blob, "")
	require.Len(t, got, 2)
	assert.Equal(t, "access_token", got[0].Name)
	assert.True(t, got[0].Secure)
	require.NotNil(t, got[0].Expires)

	assert.Equal(t, "refresh", got[1].Name)
	assert.True(t, got[1].HTTPOnly)
	assert.False(t, got[1].Secure)
	assert.Nil(t, got[1].Expires, "zero expiry is a session cookie")
}

func TestParseCookies_LastValueWins(t *testing.T) {
	got := ParseCookies("a=1\nb=2\na=3", "")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "3", got[0].Value)
}

func TestParseCookies_Empty(t *testing.T) {
	assert.Empty(t, ParseCookies("", ""))
	assert.Empty(t, ParseCookies("[]", ""))
	assert.Empty(t, ParseCookies("Path=/; Secure", ""))
	assert.Empty(t, ParseCookies("\ufeff  \n", ""))
}

func TestParseCookies_MalformedJSONFallsBackToLines(t *testing.T) {
	got := ParseCookies(`[{"name": "a"`, "")
	assert.Empty(t, got)
}
