package pdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreprocess(t *testing.T) {
	assert.Equal(t, "# Title\n\nline\tcell", Preprocess(`# Title\n\nline\tcell\r`))
	assert.Equal(t, "already\nfine", Preprocess("already\nfine"))
}

func TestEscapeLatex(t *testing.T) {
	assert.Equal(t, `Profit \& Loss: 50\% \$5 \#1 a\_b \{x\}`, EscapeLatex("Profit & Loss: 50% $5 #1 a_b {x}"))
	assert.Equal(t, `C:\textbackslash{}temp \textasciitilde{} \textasciicircum{}`, EscapeLatex(`C:\temp ~ ^`))
	assert.Empty(t, EscapeLatex(""))
}

func TestHeader(t *testing.T) {
	modern := Header(Styles["modern"], true)
	assert.Contains(t, modern, `\renewcommand{\familydefault}{\sfdefault}`)
	assert.Contains(t, modern, `\definecolor{linkcolor}{HTML}{0d9488}`)
	assert.Contains(t, modern, `\setstretch{1.2}`)
	assert.Contains(t, modern, `\oldtableofcontents\newpage`)

	plain := Header(Styles["default"], false)
	assert.NotContains(t, plain, `\sfdefault`)
	assert.Contains(t, plain, `\setstretch{1.15}`)
	assert.NotContains(t, plain, `\oldtableofcontents`)

	minimal := Header(Styles["minimal"], false)
	assert.Contains(t, minimal, `\pagestyle{empty}`)
}

func TestCover(t *testing.T) {
	now := time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)

	cover := Cover("Q1 & Q2", "Ada", "", now)
	assert.Contains(t, cover, `{\Huge\bfseries Q1 \& Q2\par}`)
	assert.Contains(t, cover, `{\Large Ada\par}`)
	assert.Contains(t, cover, `{\large 04 March 2026\par}`)

	explicit := Cover("T", "", "Spring 2026", now)
	assert.Contains(t, explicit, "Spring 2026")
}

func TestStyleInfo(t *testing.T) {
	info := StyleInfo()
	assert.Len(t, info, 4)
	assert.Equal(t, "Minimal style with wide margins and clean design", info["minimal"]["description"])
}
