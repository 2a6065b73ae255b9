package preset

// catalog is ordered: web, backend, database, cms. IDs are stable — the
// panel deep-links to them.
var catalog = []Preset{
	{
		ID:          "hello-world",
		Name:        "Hello World (Nginx)",
		Description: "Minimal test container with Nginx serving its default page",
		Category:    "web",
		Icon:        "👋",
		Compose: `services:
  web:
    image: nginx:alpine
    expose:
      - "80"
    restart: unless-stopped
`,
		DefaultEnv: map[string]string{},
		Tags:       []string{"test", "simple", "nginx", "hello"},
	},
	{
		ID:          "nginx-static",
		Name:        "Nginx Static Site",
		Description: "Static site served by Nginx",
		Category:    "web",
		Icon:        "🌐",
		Compose: `services:
  web:
    image: nginx:alpine
    expose:
      - "80"
    volumes:
      - ./html:/usr/share/nginx/html:ro
    restart: unless-stopped
`,
		DefaultEnv: map[string]string{},
		Tags:       []string{"nginx", "static", "simple"},
	},
	{
		ID:          "apache-static",
		Name:        "Apache Static Site",
		Description: "Static site served by Apache httpd",
		Category:    "web",
		Icon:        "🪶",
		Compose: `services:
  web:
    image: httpd:alpine
    expose:
      - "80"
    volumes:
      - ./html:/usr/local/apache2/htdocs:ro
    restart: unless-stopped
`,
		DefaultEnv: map[string]string{},
		Tags:       []string{"apache", "static", "simple"},
	},
	{
		ID:          "nodejs-express",
		Name:        "Node.js + Express",
		Description: "Node.js application with the Express framework",
		Category:    "backend",
		Icon:        "💚",
		Compose: `services:
  app:
    image: node:20-alpine
    working_dir: /app
    expose:
      - "3000"
    volumes:
      - ./app:/app
    command: sh -c "npm install && npm start"
    environment:
      - NODE_ENV=${NODE_ENV:-production}
      - PORT=3000
    restart: unless-stopped
`,
		DefaultEnv: map[string]string{"NODE_ENV": "production"},
		Tags:       []string{"nodejs", "express", "javascript"},
	},
	{
		ID:          "python-fastapi",
		Name:        "Python + FastAPI",
		Description: "Python API with the FastAPI framework",
		Category:    "backend",
		Icon:        "🐍",
		Compose: `services:
  api:
    image: python:3.11-slim
    working_dir: /app
    expose:
      - "8000"
    volumes:
      - ./app:/app
    command: sh -c "pip install fastapi uvicorn && uvicorn main:app --host 0.0.0.0 --port 8000"
    environment:
      - PYTHONUNBUFFERED=1
    restart: unless-stopped
`,
		DefaultEnv: map[string]string{},
		Tags:       []string{"python", "fastapi", "api"},
	},
	{
		ID:          "python-flask",
		Name:        "Python + Flask",
		Description: "Python web application on Flask",
		Category:    "backend",
		Icon:        "🌶️",
		Compose: `services:
  app:
    image: python:3.11-slim
    working_dir: /app
    expose:
      - "5000"
    volumes:
      - ./app:/app
    command: sh -c "pip install flask && flask run --host=0.0.0.0"
    environment:
      - FLASK_APP=app.py
      - FLASK_ENV=${FLASK_ENV:-production}
    restart: unless-stopped
`,
		DefaultEnv: map[string]string{"FLASK_ENV": "production"},
		Tags:       []string{"python", "flask", "web"},
	},
	{
		ID:          "postgresql-pgadmin",
		Name:        "PostgreSQL + pgAdmin",
		Description: "PostgreSQL database with the pgAdmin web UI",
		Category:    "database",
		Icon:        "🐘",
		Compose: `services:
  pgadmin:
    image: dpage/pgadmin4:latest
    expose:
      - "80"
    environment:
      - PGADMIN_DEFAULT_EMAIL=${PGADMIN_EMAIL:-admin@admin.com}
      - PGADMIN_DEFAULT_PASSWORD=${PGADMIN_PASSWORD:-admin}
    restart: unless-stopped

  postgres:
    image: postgres:15-alpine
    environment:
      - POSTGRES_DB=${POSTGRES_DB:-mydb}
      - POSTGRES_USER=${POSTGRES_USER:-admin}
      - POSTGRES_PASSWORD=${POSTGRES_PASSWORD:-changeme}
    volumes:
      - postgres-data:/var/lib/postgresql/data
    restart: unless-stopped

volumes:
  postgres-data:
`,
		DefaultEnv: map[string]string{
			"POSTGRES_DB":       "mydb",
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "changeme123",
			"PGADMIN_EMAIL":     "admin@admin.com",
			"PGADMIN_PASSWORD":  "admin123",
		},
		Tags: []string{"postgresql", "database", "pgadmin"},
	},
	{
		ID:          "mysql-phpmyadmin",
		Name:        "MySQL + phpMyAdmin",
		Description: "MySQL database with phpMyAdmin",
		Category:    "database",
		Icon:        "🐬",
		Compose: `services:
  phpmyadmin:
    image: phpmyadmin:latest
    expose:
      - "80"
    environment:
      - PMA_HOST=mysql
      - PMA_PORT=3306
    restart: unless-stopped

  mysql:
    image: mysql:8.0
    environment:
      - MYSQL_ROOT_PASSWORD=${MYSQL_ROOT_PASSWORD:-rootpass}
      - MYSQL_DATABASE=${MYSQL_DATABASE:-mydb}
      - MYSQL_USER=${MYSQL_USER:-admin}
      - MYSQL_PASSWORD=${MYSQL_PASSWORD:-changeme}
    volumes:
      - mysql-data:/var/lib/mysql
    restart: unless-stopped

volumes:
  mysql-data:
`,
		DefaultEnv: map[string]string{
			"MYSQL_ROOT_PASSWORD": "rootpass123",
			"MYSQL_DATABASE":      "mydb",
			"MYSQL_USER":          "admin",
			"MYSQL_PASSWORD":      "changeme123",
		},
		Tags: []string{"mysql", "database", "phpmyadmin"},
	},
	{
		ID:          "redis",
		Name:        "Redis",
		Description: "Redis cache and message queue",
		Category:    "database",
		Icon:        "🔴",
		Compose: `services:
  redis:
    image: redis:alpine
    expose:
      - "6379"
    command: redis-server --requirepass ${REDIS_PASSWORD:-changeme}
    volumes:
      - redis-data:/data
    restart: unless-stopped

volumes:
  redis-data:
`,
		DefaultEnv: map[string]string{"REDIS_PASSWORD": "changeme123"},
		Tags:       []string{"redis", "cache", "queue"},
	},
	{
		ID:          "wordpress",
		Name:        "WordPress",
		Description: "Popular CMS for blogs and sites",
		Category:    "cms",
		Icon:        "📝",
		Compose: `services:
  wordpress:
    image: wordpress:latest
    expose:
      - "80"
    environment:
      - WORDPRESS_DB_HOST=db
      - WORDPRESS_DB_USER=${DB_USER:-wordpress}
      - WORDPRESS_DB_PASSWORD=${DB_PASSWORD:-changeme}
      - WORDPRESS_DB_NAME=${DB_NAME:-wordpress}
    volumes:
      - wordpress-data:/var/www/html
    restart: unless-stopped

  db:
    image: mysql:8.0
    environment:
      - MYSQL_DATABASE=${DB_NAME:-wordpress}
      - MYSQL_USER=${DB_USER:-wordpress}
      - MYSQL_PASSWORD=${DB_PASSWORD:-changeme}
      - MYSQL_ROOT_PASSWORD=${DB_ROOT_PASSWORD:-rootpass}
    volumes:
      - db-data:/var/lib/mysql
    restart: unless-stopped

volumes:
  wordpress-data:
  db-data:
`,
		DefaultEnv: map[string]string{
			"DB_NAME":          "wordpress",
			"DB_USER":          "wordpress",
			"DB_PASSWORD":      "changeme123",
			"DB_ROOT_PASSWORD": "rootpass123",
		},
		Tags: []string{"wordpress", "cms", "php", "mysql"},
	},
	{
		ID:          "ghost",
		Name:        "Ghost",
		Description: "Modern publishing platform for blogs",
		Category:    "cms",
		Icon:        "👻",
		Compose: `services:
  ghost:
    image: ghost:alpine
    expose:
      - "2368"
    environment:
      - url=${GHOST_URL:-http://localhost}
      - database__client=sqlite3
      - database__connection__filename=/var/lib/ghost/content/data/ghost.db
    volumes:
      - ghost-data:/var/lib/ghost/content
    restart: unless-stopped

volumes:
  ghost-data:
`,
		DefaultEnv: map[string]string{"GHOST_URL": "http://localhost"},
		Tags:       []string{"ghost", "cms", "blog"},
	},
}
