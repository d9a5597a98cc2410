package server

import (
	"net/http"
	"path"
	"path/filepath"
)

func (s *Server) registerStatic(mux *http.ServeMux) {
	dir := s.config.StaticDir

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, prefix := range []string{"includes", "prediction"} {
		fs := indexOnlyFS{http.Dir(filepath.Join(dir, prefix))}
		mux.Handle("GET /"+prefix+"/", http.StripPrefix("/"+prefix, http.FileServer(fs)))
	}
}

// indexOnlyFS serves a directory only through its index.html, so directory
// listings are never generated.
type indexOnlyFS struct {
	fs http.FileSystem
}

func (f indexOnlyFS) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if stat.IsDir() {
		index, err := f.fs.Open(path.Join(name, "index.html"))
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		_ = index.Close()
	}
	return file, nil
}
