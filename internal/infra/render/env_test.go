package render

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinPathLists(t *testing.T) {
	sep := string(os.PathListSeparator)
	got := joinPathLists(
		strings.Join([]string{"/Library/TeX/texbin", "/usr/bin"}, sep),
		strings.Join([]string{"/usr/bin", "", "/bin"}, sep),
	)
	assert.Equal(t, strings.Join([]string{"/Library/TeX/texbin", "/usr/bin", "/bin"}, sep), got)
}

func TestProcessEnv(t *testing.T) {
	sep := string(os.PathListSeparator)
	base := []string{"HOME=/root", "PATH=/bin", "LANG=C", "PATH=/usr/bin"}

	env := processEnv(base, map[string]string{"LANG": "en_US.UTF-8"}, []string{"/opt/texlive/bin"})
	assert.Equal(t, "en_US.UTF-8", lookupEnv(env, "LANG"))
	assert.Equal(t, "/opt/texlive/bin"+sep+"/usr/bin", lookupEnv(env, "PATH"))
	assert.Equal(t, "/root", lookupEnv(env, "HOME"))

	var paths int
	for _, entry := range env {
		if strings.HasPrefix(entry, "PATH=") {
			paths++
		}
	}
	assert.Equal(t, 1, paths)
	assert.Equal(t, []string{"HOME=/root", "PATH=/bin", "LANG=C", "PATH=/usr/bin"}, base, "base must not be modified")
}

func TestProcessEnv_NoSearchPath(t *testing.T) {
	base := []string{"PATH=/bin"}
	assert.Equal(t, base, processEnv(base, nil, nil))
}
