package filename

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	content := []byte("chess board pixels")
	hash := ContentHash(content)

	tests := []struct {
		name     string
		template string
		vars     Vars
		expected string
	}{
		{
			name:     "default asset names",
			template: "images/[name]-[hash][ext][query]",
			vars:     Vars{Name: "chess", Ext: ".jpg", Content: content},
			expected: "images/chess-" + hash + ".jpg",
		},
		{
			name:     "query is kept",
			template: "images/[name]-[hash][ext][query]",
			vars:     Vars{Name: "chess", Ext: ".jpg", Query: "?size=small", Content: content},
			expected: "images/chess-" + hash + ".jpg?size=small",
		},
		{
			name:     "truncated hash",
			template: "[name].[hash:8][ext]",
			vars:     Vars{Name: "logo", Ext: ".svg", Content: content},
			expected: "logo." + hash[:8] + ".svg",
		},
		{
			name:     "contenthash alias",
			template: "static/[contenthash][ext]",
			vars:     Vars{Name: "logo", Ext: ".png", Content: content},
			expected: "static/" + hash + ".png",
		},
		{
			name:     "no tokens",
			template: "favicon.ico",
			vars:     Vars{Name: "icon", Ext: ".ico"},
			expected: "favicon.ico",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.template)
			require.NoError(t, err)

			out, err := tmpl.Render(tt.vars)
			require.NoError(t, err)
			require.Equal(t, tt.expected, out)
			require.NoError(t, CheckResolved(out))
		})
	}
}

func TestParse_rejectsUnknownTokens(t *testing.T) {
	tests := []string{
		"",
		"[name].[chunkhash][ext]",
		"[Name][ext]",
		"[name:4][ext]",
		"[hash:0][ext]",
		"[hash:17][ext]",
		"[id].js",
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			require.ErrorIs(t, err, ErrUnknownToken)
		})
	}
}

func TestRender_keepsBracketsFromVars(t *testing.T) {
	tmpl := MustParse("images/[name]-[hash:8][ext][query]")

	tests := []struct {
		name string
		vars Vars
		want string
	}{
		{
			name: "bracketed name",
			vars: Vars{Name: "logo[2x]", Ext: ".png", Content: []byte("a")},
			want: "images/logo[2x]-" + ContentHash([]byte("a"))[:8] + ".png",
		},
		{
			name: "token text in name",
			vars: Vars{Name: "odd[hash]", Ext: ".png", Content: []byte("a")},
			want: "images/odd[hash]-" + ContentHash([]byte("a"))[:8] + ".png",
		},
		{
			name: "bracketed query",
			vars: Vars{Name: "font", Ext: ".woff2", Query: "?a[]=1", Content: []byte("a")},
			want: "images/font-" + ContentHash([]byte("a"))[:8] + ".woff2?a[]=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tmpl.Render(tt.vars)
			require.NoError(t, err)
			require.Equal(t, tt.want, out)
		})
	}
}

func TestTemplate_Has(t *testing.T) {
	tmpl := MustParse("images/[name]-[hash:8][ext]")

	require.True(t, tmpl.Has("ext"))
	require.True(t, tmpl.Has("contenthash", "hash"))
	require.False(t, tmpl.Has("query"))
	require.False(t, MustParse("images/[name]").Has("ext", "hash", "contenthash"))
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("a"))
	require.Len(t, a, HashLength)
	require.Equal(t, a, ContentHash([]byte("a")))
	require.NotEqual(t, a, ContentHash([]byte("b")))
}

func TestCheckResolved(t *testing.T) {
	require.NoError(t, CheckResolved("main.js"))
	require.NoError(t, CheckResolved("weird[name.js"))
	require.ErrorIs(t, CheckResolved("main-[hash].js"), ErrUnresolvedToken)
}

func TestValidateTokens(t *testing.T) {
	require.NoError(t, ValidateTokens("[dir]/[name]-[hash]", "name", "hash", "dir"))
	require.ErrorIs(t, ValidateTokens("[name][query]", "name", "hash", "dir"), ErrUnknownToken)
	require.ErrorIs(t, ValidateTokens("[hash:8]", "hash"), ErrUnknownToken)
}

func TestSplitQuery(t *testing.T) {
	path, query := SplitQuery("images/chess-1.jpg?size=small")
	require.Equal(t, "images/chess-1.jpg", path)
	require.Equal(t, "?size=small", query)

	path, query = SplitQuery("images/chess-1.jpg")
	require.Equal(t, "images/chess-1.jpg", path)
	require.Empty(t, query)
}

func TestSplitExt(t *testing.T) {
	name, ext := SplitExt("chess.board.jpg")
	require.Equal(t, "chess.board", name)
	require.Equal(t, ".jpg", ext)

	name, ext = SplitExt(".env")
	require.Equal(t, ".env", name)
	require.Empty(t, ext)
}
