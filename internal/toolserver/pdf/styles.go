package pdf

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultStyle     = "default"
	DefaultPaperSize = "a4"
	DefaultFontSize  = "11pt"
	tocDepth         = 3
)

var (
	PaperSizes = []string{"a4", "letter", "legal"}
	FontSizes  = []string{"10pt", "11pt", "12pt"}
)

// Style is the LaTeX look of a generated document.
type Style struct {
	Name        string
	Description string
	SansSerif   bool
	HeaderColor string
	LinkColor   string
	Margin      string
	LineSpacing float64
	HeaderStyle string
}

var Styles = map[string]Style{
	"default": {
		Name:        "default",
		Description: "Classic style with serif font (Computer Modern)",
		HeaderColor: "000000",
		LinkColor:   "0000FF",
		Margin:      "2.5cm",
		LineSpacing: 1.15,
	},
	"academic": {
		Name:        "academic",
		Description: "Academic style with section numbering and headers",
		HeaderColor: "000000",
		LinkColor:   "1a1a80",
		Margin:      "2.5cm",
		LineSpacing: 1.5,
		HeaderStyle: `\usepackage{fancyhdr}\pagestyle{fancy}\fancyhead[L]{\leftmark}\fancyhead[R]{\thepage}`,
	},
	"modern": {
		Name:        "modern",
		Description: "Modern style with sans-serif font and colors",
		SansSerif:   true,
		HeaderColor: "2563eb",
		LinkColor:   "0d9488",
		Margin:      "2cm",
		LineSpacing: 1.2,
		HeaderStyle: `\usepackage{fancyhdr}\pagestyle{fancy}\fancyhead{}\fancyfoot[C]{\thepage}`,
	},
	"minimal": {
		Name:        "minimal",
		Description: "Minimal style with wide margins and clean design",
		HeaderColor: "000000",
		LinkColor:   "333333",
		Margin:      "3.5cm",
		LineSpacing: 1.3,
		HeaderStyle: `\pagestyle{empty}`,
	},
}

// StyleInfo maps style names to their descriptions.
func StyleInfo() map[string]map[string]string {
	out := make(map[string]map[string]string, len(Styles))
	for name, style := range Styles {
		out[name] = map[string]string{"description": style.Description}
	}
	return out
}

const codeListing = `\lstset{
    basicstyle=\ttfamily\small,
    breaklines=true,
    frame=single,
    backgroundcolor=\color{gray!10},
    numbers=left,
    numberstyle=\tiny\color{gray},
    tabsize=4
}`

const tocPageBreak = `\let\oldtableofcontents\tableofcontents
\renewcommand{\tableofcontents}{\oldtableofcontents\newpage}`

// Header builds the preamble additions for a style.
func Header(style Style, toc bool) string {
	lines := []string{
		`\usepackage{longtable}`,
		`\usepackage{booktabs}`,
		`\usepackage{graphicx}`,
		`\usepackage{amsmath}`,
		`\usepackage{amssymb}`,
		`\usepackage{listings}`,
		`\usepackage{float}`,
		`\usepackage{xcolor}`,
		codeListing,
	}
	if style.SansSerif {
		lines = append(lines, `\renewcommand{\familydefault}{\sfdefault}`)
	}
	lines = append(lines,
		fmt.Sprintf(`\definecolor{headercolor}{HTML}{%s}`, style.HeaderColor),
		fmt.Sprintf(`\definecolor{linkcolor}{HTML}{%s}`, style.LinkColor),
		`\usepackage{hyperref}`,
		`\hypersetup{colorlinks=true,linkcolor=linkcolor,urlcolor=linkcolor}`,
	)
	if style.LineSpacing != 1.0 {
		lines = append(lines,
			`\usepackage{setspace}`,
			fmt.Sprintf(`\setstretch{%s}`, strconv.FormatFloat(style.LineSpacing, 'f', -1, 64)),
		)
	}
	if style.HeaderStyle != "" {
		lines = append(lines, style.HeaderStyle)
	}
	if toc {
		lines = append(lines, tocPageBreak)
	}
	return strings.Join(lines, "\n")
}

// Cover builds a centered title page. An empty date means today.
func Cover(title, author, date string, now time.Time) string {
	if date == "" {
		date = now.Format("02 January 2006")
	}
	return fmt.Sprintf(`\begin{titlepage}
    \centering
    \vspace*{\fill}
    {\Huge\bfseries %s\par}
    \vspace{1.5cm}
    {\Large %s\par}
    \vspace{0.8cm}
    {\large %s\par}
    \vspace*{\fill}
\end{titlepage}
\newpage
`, EscapeLatex(title), EscapeLatex(author), EscapeLatex(date))
}

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// EscapeLatex escapes the LaTeX special characters of plain text.
func EscapeLatex(text string) string {
	return latexEscaper.Replace(text)
}

var escapeSequences = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "")

// Preprocess turns literal escape sequences that agents often send into the
// characters they stand for.
func Preprocess(markdown string) string {
	return escapeSequences.Replace(markdown)
}
