package handlers

import (
	"embed"
	"html/template"
	"path"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"blog-admin/pkg/config"
	"blog-admin/pkg/services"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"base":     path.Base,
	"imageURL": imageURL,
	"thumbURL": thumbURL,
}

// NewRouter wires the admin routes.
func NewRouter(cfg *config.Config, h *Handler, worksets *services.WorksetManager) *gin.Engine {
	r := gin.Default()

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 7 * 24 * 3600})
	r.Use(sessions.Sessions("blogadmin", store))

	r.SetHTMLTemplate(template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")))

	app := r.Group("/")
	app.Use(WorksetRequired(worksets))
	{
		app.GET("/", h.ListPosts)
		app.GET("/pages", h.ListPages)
		app.GET("/edit", h.EditPost)
		app.GET("/add", h.AddPost)
		app.POST("/post-new", h.CreatePost)
		app.POST("/post-file", h.UpdatePost)
		app.GET("/delete", h.DeletePost)
		app.GET("/img/*name", ServeStaged)
	}
	return r
}
