package publish

import (
	"net/url"
	"path"
	"strings"
)

// normPosix normalizes a file path to cleaned forward-slash form.
func normPosix(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// ResolveLink maps a relative Markdown link onto a page-view URL via the
// path→page index. Scheme-qualified and fragment-only links are left for
// the renderer to pass through. Only the path portion of baseURL is reused
// in the result: the environment-specific host must never be embedded into
// published content.
func ResolveLink(baseURL string, pathToPage map[string]string, href, currentPath string) (string, bool) {
	if currentPath == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	pth := strings.TrimLeft(u.Path, "/")
	if !strings.HasSuffix(strings.ToLower(pth), ".md") {
		return "", false
	}

	target := normPosix(path.Join(path.Dir(normPosix(currentPath)), pth))
	id, ok := pathToPage[target]
	if !ok {
		return "", false
	}

	resolved := contextPath(baseURL) + "/pages/viewpage.action?pageId=" + id
	if u.Fragment != "" {
		resolved += "#" + u.Fragment
	}
	return resolved, true
}

// contextPath extracts the context path of the base URL, dropping a
// trailing REST suffix when the base was configured as an API root.
func contextPath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	p = strings.TrimSuffix(p, "/rest/api")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
