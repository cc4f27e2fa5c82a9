package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/fatih/structs"
	"github.com/tebeka/atexit"
)

// ClickHouseOptions configures a ClickHouse recorder.
type ClickHouseOptions struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	BatchSize   int
	DialTimeout time.Duration
}

var clickhouseTypes = map[reflect.Kind]string{
	reflect.Bool:    "Bool",
	reflect.Int:     "Int64",
	reflect.Int8:    "Int8",
	reflect.Int16:   "Int16",
	reflect.Int32:   "Int32",
	reflect.Int64:   "Int64",
	reflect.Uint:    "UInt64",
	reflect.Uint8:   "UInt8",
	reflect.Uint16:  "UInt16",
	reflect.Uint32:  "UInt32",
	reflect.Uint64:  "UInt64",
	reflect.Float32: "Float32",
	reflect.Float64: "Float64",
	reflect.String:  "String",
}

// clickhouseRecorder buffers entries per table and sends them to ClickHouse
// in bulk.
type clickhouseRecorder struct {
	conn      clickhouse.Conn
	mu        sync.Mutex
	batchSize int

	tables     map[string]*table
	entryCount int
}

// NewClickHouseRecorder connects to a ClickHouse server.
func NewClickHouseRecorder(opts ClickHouseOptions) (DataRecorder, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = defaultBatchSize
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = 30 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      opts.DialTimeout,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	err = conn.Ping(context.Background())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	r := &clickhouseRecorder{
		conn:      conn,
		batchSize: opts.BatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { r.Flush() })

	return r, nil
}

func clickhouseCreateTableSQL(tableName string, sampleEntry any) string {
	err := checkStructFields(sampleEntry)
	if err != nil {
		panic(err)
	}

	st := reflect.TypeOf(sampleEntry)
	names := structs.Names(sampleEntry)
	columns := make([]string, 0, len(names))

	for i, name := range names {
		columns = append(columns,
			fmt.Sprintf("`%s` %s", name, clickhouseTypes[st.Field(i).Type.Kind()]))
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%s` (\n\t%s\n) ENGINE = MergeTree()\nORDER BY tuple()",
		tableName, strings.Join(columns, ",\n\t"))
}

// clickhouseRow widens the platform sized integers, which ClickHouse columns
// do not accept.
func clickhouseRow(entry any) []any {
	values := fieldValues(entry)

	for i, v := range values {
		switch x := v.(type) {
		case int:
			values[i] = int64(x)
		case uint:
			values[i] = uint64(x)
		}
	}

	return values
}

func (r *clickhouseRecorder) CreateTable(tableName string, sampleEntry any) {
	createSQL := clickhouseCreateTableSQL(tableName, sampleEntry)

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.conn.Exec(context.Background(), createSQL)
	if err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	r.tables[tableName] = &table{structType: reflect.TypeOf(sampleEntry)}
}

func (r *clickhouseRecorder) InsertData(tableName string, entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	t.entries = append(t.entries, entry)

	r.entryCount++
	if r.entryCount >= r.batchSize {
		r.flushLocked()
	}
}

func (r *clickhouseRecorder) ListTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return sortedTableNames(r.tables)
}

func (r *clickhouseRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushLocked()
}

func (r *clickhouseRecorder) flushLocked() {
	if r.entryCount == 0 {
		return
	}

	ctx := context.Background()

	for tableName, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}

		batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO `"+tableName+"`")
		if err != nil {
			panic(fmt.Errorf("failed to prepare batch for %s: %w",
				tableName, err))
		}

		for _, entry := range t.entries {
			err = batch.Append(clickhouseRow(entry)...)
			if err != nil {
				panic(fmt.Errorf("failed to append to batch: %w", err))
			}
		}

		err = batch.Send()
		if err != nil {
			panic(fmt.Errorf("failed to send batch: %w", err))
		}

		t.entries = t.entries[:0]
	}

	r.entryCount = 0
}

func (r *clickhouseRecorder) Close() error {
	r.Flush()

	err := r.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}

	return nil
}
