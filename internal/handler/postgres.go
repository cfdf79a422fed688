package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/cucumber/godog"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/container"
	"github.com/tomatool/ketchup/internal/scenario"
)

// ErrInvalidIdentifier is returned for table or column names that could
// inject SQL
var ErrInvalidIdentifier = errors.New("invalid SQL identifier")

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func identifier(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return name, nil
}

type Postgres struct {
	name      string
	config    config.Resource
	container *container.Manager
	provider  *config.Provider
	db        *sqlx.DB
}

func NewPostgres(name string, cfg config.Resource, provider *config.Provider, cm *container.Manager) (*Postgres, error) {
	return &Postgres{name: name, config: cfg, container: cm, provider: provider}, nil
}

func (r *Postgres) Name() string { return r.name }

func (r *Postgres) Init(ctx context.Context) error {
	dsn, err := r.dsn(ctx)
	if err != nil {
		return err
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	r.db = db
	return nil
}

// dsn prefers the container mapping, then options.dsn, then the db.*
// properties
func (r *Postgres) dsn(ctx context.Context) (string, error) {
	user, password := "postgres", "postgres"
	if u, ok := r.config.Options["user"].(string); ok {
		user = u
	}
	if p, ok := r.config.Options["password"].(string); ok {
		password = p
	}

	if r.config.Container != "" {
		if r.container == nil {
			return "", fmt.Errorf("resource %s references container %s but no containers are running", r.name, r.config.Container)
		}
		host, err := r.container.GetHost(ctx, r.config.Container)
		if err != nil {
			return "", fmt.Errorf("getting container host: %w", err)
		}
		port, err := r.container.GetPort(ctx, r.config.Container, "5432/tcp")
		if err != nil {
			return "", fmt.Errorf("getting container port: %w", err)
		}
		dbName := r.config.Database
		if dbName == "" {
			dbName = "postgres"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, dbName), nil
	}

	if dsn, ok := r.config.Options["dsn"].(string); ok && dsn != "" {
		return dsn, nil
	}

	raw, user, password := r.provider.DB()
	return propertiesDSN(raw, user, password)
}

// propertiesDSN turns a db.url property into a lib/pq URL. A jdbc: prefix
// is dropped and credentials are added unless the URL carries its own.
func propertiesDSN(raw, user, password string) (string, error) {
	u, err := url.Parse(strings.TrimPrefix(strings.TrimSpace(raw), "jdbc:"))
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", config.KeyDBURL, err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}
	if u.User == nil && user != "" {
		if password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	if !u.Query().Has("sslmode") {
		q := u.Query()
		q.Set("sslmode", "disable")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (r *Postgres) Ready(ctx context.Context) error { return r.db.PingContext(ctx) }

// Reset truncates every public table except migration bookkeeping and
// options.exclude
func (r *Postgres) Reset(ctx context.Context) error {
	var all []string
	if err := r.db.SelectContext(ctx, &all, "SELECT tablename FROM pg_tables WHERE schemaname = 'public'"); err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}
	var tables []string
	for _, table := range all {
		if !r.isExcluded(table) {
			tables = append(tables, table)
		}
	}
	if len(tables) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", ")))
	return err
}

func (r *Postgres) isExcluded(table string) bool {
	excludeList := []string{"schema_migrations", "goose_db_version", "flyway_schema_history"}
	if exclude, ok := r.config.Options["exclude"].([]interface{}); ok {
		for _, e := range exclude {
			if s, ok := e.(string); ok {
				excludeList = append(excludeList, s)
			}
		}
	}
	for _, e := range excludeList {
		if e == table {
			return true
		}
	}
	return false
}

func (r *Postgres) ExecSQL(ctx context.Context, query string) (int64, error) {
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *Postgres) ExecSQLFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading SQL file: %w", err)
	}
	_, err = r.db.ExecContext(ctx, string(content))
	return err
}

func (r *Postgres) Cleanup(ctx context.Context) error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// dbSteps keeps the query parameters of one scenario
type dbSteps struct {
	pg     *Postgres
	s      *Scenario
	params map[string]any
}

func (r *Postgres) Steps(s *Scenario) StepCategory {
	st := &dbSteps{pg: r, s: s, params: make(map[string]any)}
	return StepCategory{
		Name:        "Database",
		Description: "Steps for seeding and checking the PostgreSQL database",
		Steps: []StepDef{
			{
				Group:       "Query Parameters",
				Pattern:     `^I set DB query parameter "([^"]*)" to "([^"]*)"$`,
				Description: "Set a string parameter for records matching",
				Example:     `I set DB query parameter "email" to "<email>"`,
				Handler:     st.setStringParam,
			},
			{
				Group:       "Query Parameters",
				Pattern:     `^I set DB query parameter "([^"]*)" to (-?\d+)$`,
				Description: "Set an integer parameter for records matching",
				Example:     `I set DB query parameter "age" to 30`,
				Handler:     st.setIntParam,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the database table "([^"]*)" should have (\d+) rows$`,
				Description: "Assert table row count",
				Example:     `the database table "users" should have 2 rows`,
				Handler:     st.tableShouldHaveRows,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the database table "([^"]*)" should be empty$`,
				Description: "Assert table has no rows",
				Example:     `the database table "sessions" should be empty`,
				Handler:     st.tableShouldBeEmpty,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the database table "([^"]*)" should contain a record where "([^"]*)" = "([^"]*)"$`,
				Description: "Assert a row exists with a column value",
				Example:     `the database table "users" should contain a record where "email" = "<email>"`,
				Handler:     st.tableShouldContainRecord,
			},
			{
				Group:       "Assertions",
				Pattern:     `^the database table "([^"]*)" should have (\d+) records matching:$`,
				Description: "Count rows matching col=value pairs; a value naming a query parameter uses its value",
				Example:     `the database table "users" should have 1 records matching:`,
				Handler:     st.tableShouldHaveMatching,
			},
			{
				Group:       "Data Setup",
				Pattern:     `^I insert into database table "([^"]*)":$`,
				Description: "Insert rows; the first table row names the columns",
				Example:     `I insert into database table "users":`,
				Handler:     st.insertRows,
			},
			{
				Group:       "Data Setup",
				Pattern:     `^I execute SQL:$`,
				Description: "Run SQL from a docstring",
				Example:     `I execute SQL:`,
				Handler:     st.executeSQL,
			},
			{
				Group:       "Scenario Values",
				Pattern:     `^I store the first "([^"]*)" from SQL as "([^"]*)":$`,
				Description: "Run a query and store a column of its first row",
				Example:     `I store the first "id" from SQL as "user_id":`,
				Handler:     st.storeFirst,
			},
		},
	}
}

func (st *dbSteps) setStringParam(key, value string) error {
	if err := st.s.Resolve(&value); err != nil {
		return err
	}
	st.params[key] = value
	return nil
}

func (st *dbSteps) setIntParam(key string, value int) error {
	st.params[key] = value
	return nil
}

func (st *dbSteps) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := st.pg.db.GetContext(ctx, &n, st.pg.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return n, nil
}

func (st *dbSteps) tableShouldHaveRows(ctx context.Context, table string, expected int) error {
	t, err := identifier(table)
	if err != nil {
		return err
	}
	n, err := st.count(ctx, "SELECT COUNT(*) FROM "+t)
	if err != nil {
		return err
	}
	if n != expected {
		return &assertion.FailedError{Subject: fmt.Sprintf("rows in table %s", t), Expected: expected, Actual: n}
	}
	return nil
}

func (st *dbSteps) tableShouldBeEmpty(ctx context.Context, table string) error {
	return st.tableShouldHaveRows(ctx, table, 0)
}

func (st *dbSteps) tableShouldContainRecord(ctx context.Context, table, column, value string) error {
	t, err := identifier(table)
	if err != nil {
		return err
	}
	c, err := identifier(column)
	if err != nil {
		return err
	}
	if err := st.s.Resolve(&value); err != nil {
		return err
	}

	n, err := st.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", t, c), value)
	if err != nil {
		return err
	}
	if n == 0 {
		return &assertion.FailedError{Subject: fmt.Sprintf("table %s", t), Expected: fmt.Sprintf("a record where %s = %q", c, value), Actual: "none"}
	}
	return nil
}

func (st *dbSteps) tableShouldHaveMatching(ctx context.Context, table string, expected int, doc *godog.DocString) error {
	conditions := doc.Content
	if err := st.s.Resolve(&conditions); err != nil {
		return err
	}
	query, args, err := matchQuery(table, conditions, st.params)
	if err != nil {
		return err
	}
	n, err := st.count(ctx, query, args...)
	if err != nil {
		return err
	}
	if n != expected {
		return &assertion.FailedError{Subject: fmt.Sprintf("records in %s matching %s", table, strings.TrimSpace(conditions)), Expected: expected, Actual: n}
	}
	return nil
}

// matchQuery builds a COUNT query from "col=value,col2=value2". A value
// that names a query parameter is replaced by the parameter.
func matchQuery(table, conditions string, params map[string]any) (string, []any, error) {
	t, err := identifier(table)
	if err != nil {
		return "", nil, err
	}

	var (
		where []string
		args  []any
	)
	for _, cond := range strings.Split(conditions, ",") {
		cond = strings.TrimSpace(cond)
		if cond == "" {
			continue
		}
		col, value, ok := strings.Cut(cond, "=")
		if !ok {
			return "", nil, fmt.Errorf("condition %q must be column=value", cond)
		}
		c, err := identifier(col)
		if err != nil {
			return "", nil, err
		}
		value = strings.TrimSpace(value)

		where = append(where, c+" = ?")
		if p, ok := params[value]; ok {
			args = append(args, scenario.String(p))
		} else {
			args = append(args, value)
		}
	}
	if len(where) == 0 {
		return "", nil, errors.New("no conditions given")
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", t, strings.Join(where, " AND ")), args, nil
}

// insertQuery returns a named INSERT for the given columns
func insertQuery(table string, columns []string) (string, error) {
	t, err := identifier(table)
	if err != nil {
		return "", err
	}
	names := make([]string, len(columns))
	for i, col := range columns {
		c, err := identifier(col)
		if err != nil {
			return "", err
		}
		columns[i] = c
		names[i] = ":" + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t, strings.Join(columns, ", "), strings.Join(names, ", ")), nil
}

func (st *dbSteps) insertRows(ctx context.Context, table string, data *godog.Table) error {
	if len(data.Rows) < 2 {
		return fmt.Errorf("table must have headers and at least one data row")
	}
	columns := make([]string, len(data.Rows[0].Cells))
	for i, cell := range data.Rows[0].Cells {
		columns[i] = cell.Value
	}
	query, err := insertQuery(table, columns)
	if err != nil {
		return err
	}

	for _, row := range data.Rows[1:] {
		values := make(map[string]any, len(columns))
		for i, cell := range row.Cells {
			if i >= len(columns) {
				break
			}
			v := cell.Value
			if err := st.s.Resolve(&v); err != nil {
				return err
			}
			values[columns[i]] = v
		}
		if _, err := st.pg.db.NamedExecContext(ctx, query, values); err != nil {
			return fmt.Errorf("inserting row: %w", err)
		}
	}
	return nil
}

func (st *dbSteps) executeSQL(ctx context.Context, doc *godog.DocString) error {
	query := doc.Content
	if err := st.s.Resolve(&query); err != nil {
		return err
	}
	n, err := st.pg.ExecSQL(ctx, query)
	if err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	log.Debug().Int64("rows", n).Msg("executed SQL")
	return nil
}

func (st *dbSteps) storeFirst(ctx context.Context, column, key string, doc *godog.DocString) error {
	query := doc.Content
	if err := st.s.Resolve(&query); err != nil {
		return err
	}

	row := make(map[string]any)
	if err := st.pg.db.QueryRowxContext(ctx, query).MapScan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query returned no rows: %s", strings.TrimSpace(query))
		}
		return fmt.Errorf("querying: %w", err)
	}
	value, ok := row[column]
	if !ok {
		return fmt.Errorf("column %q not in query result", column)
	}
	return st.s.Context.Set(key, scenario.String(value))
}

var _ Handler = (*Postgres)(nil)
var _ SQLExecutor = (*Postgres)(nil)
