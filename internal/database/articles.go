package database

import (
	"database/sql"
	"time"
)

const articleColumns = `a.id, a.url, a.title, a.source, a.content, a.content_fetched,
	a.published_at, a.views, a.comments, a.shares, a.created_at`

// InsertArticle inserts an article. Returns the ID on success, 0 if the URL already exists.
func (db *DB) InsertArticle(a NewArticle) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO articles
		(url, title, source, content, published_at, views, comments, shares, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.URL, a.Title, a.Source, a.Content, formatTimePtr(a.PublishedAt),
		a.Views, a.Comments, a.Shares, formatTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// AddArticleRegion associates an article with a region. The first association
// becomes the article's primary region.
func (db *DB) AddArticleRegion(articleID, regionID int64) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO article_regions (article_id, region_id, position)
		VALUES (?, ?, (SELECT COUNT(*) FROM article_regions WHERE article_id = ?))`,
		articleID, regionID, articleID,
	)
	return err
}

// GetArticleByID returns a single article by ID, with its regions.
func (db *DB) GetArticleByID(articleID int64) (*Article, error) {
	row := db.conn.QueryRow(
		`SELECT `+articleColumns+` FROM articles a WHERE a.id = ?`, articleID,
	)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	regions, err := db.getArticleRegionIDs(articleID)
	if err != nil {
		return nil, err
	}
	a.RegionIDs = regions
	return a, nil
}

// UpdateArticleEngagement replaces the engagement counters of an article.
func (db *DB) UpdateArticleEngagement(articleID, views, comments, shares int64) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET views = ?, comments = ?, shares = ? WHERE id = ?",
		views, comments, shares, articleID,
	)
	return err
}

// GetArticlesNeedingFetch returns articles with empty content that haven't been fetched.
func (db *DB) GetArticlesNeedingFetch(regionID *int64) ([]Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles a`
	var args []any
	if regionID != nil {
		query += " JOIN article_regions ar ON ar.article_id = a.id AND ar.region_id = ?"
		args = append(args, *regionID)
	}
	query += " WHERE (a.content IS NULL OR a.content = '') AND a.content_fetched = 0 ORDER BY a.created_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// UpdateArticleContent updates article content after fetching.
func (db *DB) UpdateArticleContent(articleID int64, content *string) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET content = ?, content_fetched = 1 WHERE id = ?",
		content, articleID,
	)
	return err
}

// MarkArticleFetchAttempted marks that we tried to fetch content.
func (db *DB) MarkArticleFetchAttempted(articleID int64) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET content_fetched = 1 WHERE id = ?", articleID,
	)
	return err
}

// GetUnthreadedArticles returns the region's articles that are not linked to
// a developing or monitoring thread, ordered by ID.
func (db *DB) GetUnthreadedArticles(regionID int64) ([]Article, error) {
	rows, err := db.conn.Query(
		`SELECT `+articleColumns+`
		FROM articles a JOIN article_regions ar ON ar.article_id = a.id
		WHERE ar.region_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM thread_articles ta
			JOIN story_threads t ON t.id = ta.thread_id
			WHERE ta.article_id = a.id AND t.status IN ('developing', 'monitoring')
		)
		ORDER BY a.id`, regionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// IsArticleThreaded reports whether the article is linked to an active thread.
func (db *DB) IsArticleThreaded(articleID int64) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM thread_articles ta
		JOIN story_threads t ON t.id = ta.thread_id
		WHERE ta.article_id = ? AND t.status IN ('developing', 'monitoring')`, articleID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetThreadArticles returns the articles linked to a thread, oldest link first.
func (db *DB) GetThreadArticles(threadID int64) ([]Article, error) {
	rows, err := db.conn.Query(
		`SELECT `+articleColumns+`
		FROM articles a JOIN thread_articles ta ON ta.article_id = a.id
		WHERE ta.thread_id = ?
		ORDER BY ta.linked_at, a.id`, threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetThreadArticleURLs returns the URLs of the articles linked to a thread.
func (db *DB) GetThreadArticleURLs(threadID int64) ([]string, error) {
	rows, err := db.conn.Query(
		`SELECT a.url FROM articles a JOIN thread_articles ta ON ta.article_id = a.id
		WHERE ta.thread_id = ? ORDER BY a.id`, threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (db *DB) getArticleRegionIDs(articleID int64) ([]int64, error) {
	rows, err := db.conn.Query(
		"SELECT region_id FROM article_regions WHERE article_id = ? ORDER BY position, region_id",
		articleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticleRow(row rowScanner) (*Article, error) {
	var a Article
	var source, content, published sql.NullString
	var fetched int
	var created string
	if err := row.Scan(&a.ID, &a.URL, &a.Title, &source, &content, &fetched,
		&published, &a.Views, &a.Comments, &a.Shares, &created); err != nil {
		return nil, err
	}
	a.Source = nullString(source)
	a.Content = nullString(content)
	a.ContentFetched = fetched != 0
	a.PublishedAt = parseTimePtr(published)
	a.CreatedAt = parseTime(created)
	return &a, nil
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		a, err := scanArticleRow(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

func scanArticle(row *sql.Row) (*Article, error) {
	return scanArticleRow(row)
}
