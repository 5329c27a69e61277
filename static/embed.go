package staticfiles

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed css/* js/*
var embedded embed.FS

func EmbeddedFS() fs.FS {
	return embedded
}

// Handler serves the assets under /static/, from dir on disk when one is given.
func Handler(dir string) http.Handler {
	files := http.FileServer(http.FS(embedded))
	if dir != "" {
		files = http.FileServer(http.Dir(dir))
	}
	return http.StripPrefix("/static/", files)
}
