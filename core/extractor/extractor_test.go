package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Run("Entry content wins over article and body", func(t *testing.T) {
		page := `<html><head><title>  Tainan Food Guide  </title></head><body>
			<header>Site header</header>
			<nav>Menu</nav>
			<article>Article wrapper
				<div class="entry-content"><p>Beef   soup
				at dawn</p><script>track()</script><p>Shrimp rolls</p></div>
			</article>
			<footer>Copyright</footer>
		</body></html>`

		title, text, err := Extract([]byte(page), "https://bunnyann.tw/tainan")
		require.NoError(t, err)
		assert.Equal(t, "Tainan Food Guide", title)
		assert.Equal(t, "Beef soup at dawn\nShrimp rolls", text)
	})

	t.Run("Post content is the second choice", func(t *testing.T) {
		page := `<html><body><article>outer</article><div class="post-content">inner text</div></body></html>`

		_, text, err := Extract([]byte(page), "u")
		require.NoError(t, err)
		assert.Equal(t, "inner text", text)
	})

	t.Run("Article is used when no content class exists", func(t *testing.T) {
		page := `<html><body><p>sidebar</p><article><h1>Heading</h1><p>Body</p></article></body></html>`

		_, text, err := Extract([]byte(page), "u")
		require.NoError(t, err)
		assert.Equal(t, "Heading\nBody", text)
	})

	t.Run("Body is the fallback and noise is removed", func(t *testing.T) {
		page := `<html><head><style>p{}</style></head><body><div class="adsbygoogle">BUY</div><ads>ad</ads>
			<iframe src="x"></iframe><p>Only this</p><noscript>enable js</noscript></body></html>`

		_, text, err := Extract([]byte(page), "u")
		require.NoError(t, err)
		assert.Equal(t, "Only this", text)
	})

	t.Run("Missing title falls back to the source URL", func(t *testing.T) {
		title, _, err := Extract([]byte(`<p>text</p>`), "https://bunnyann.tw/no-title")
		require.NoError(t, err)
		assert.Equal(t, "https://bunnyann.tw/no-title", title)
	})

	t.Run("CJK text is kept intact", func(t *testing.T) {
		_, text, err := Extract([]byte(`<div class="entry-content"><p>台南 美食</p></div>`), "u")
		require.NoError(t, err)
		assert.Equal(t, "台南 美食", text)
	})

	t.Run("Empty input is an error", func(t *testing.T) {
		_, _, err := Extract([]byte("   \n"), "u")
		assert.ErrorIs(t, err, ErrEmptyDocument)
	})
}
