package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID         string `parquet:"name=id, type=UTF8, encoding=PLAIN"`
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=UTF8, encoding=PLAIN"`
	Attributes string `parquet:"name=attributes, type=UTF8, encoding=PLAIN"`
	Digest     string `parquet:"name=digest, type=UTF8, encoding=PLAIN"`
	CreatedAt  string `parquet:"name=created_at, type=UTF8, encoding=PLAIN"`
}

// ExportParquet writes every event matching q's filters with a sequence above
// q.After to a snappy-compressed parquet file at path. It pages through the
// journal and returns the number of rows written.
func (j *Journal) ExportParquet(ctx context.Context, path string, q Query) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("journal: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("journal: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	page := q
	page.Limit = MaxLimit
	for {
		records, err := j.List(ctx, page)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return written, err
		}
		for _, rec := range records {
			attrs, err := json.Marshal(rec.Attributes)
			if err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("journal: encode attributes: %w", err)
			}
			row := &parquetRow{
				ID:         rec.ID,
				Sequence:   int64(rec.Sequence),
				Type:       rec.Type,
				Attributes: string(attrs),
				Digest:     rec.Digest,
				CreatedAt:  rec.CreatedAt.Format(time.RFC3339Nano),
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("journal: write parquet row: %w", err)
			}
			written++
			page.After = rec.Sequence
		}
		if len(records) < page.Limit {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("journal: finalise parquet: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("journal: close parquet: %w", err)
	}
	return written, nil
}
