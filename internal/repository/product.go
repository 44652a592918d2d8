package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
)

const productColumns = `unique_key, product_title, product_description, style_number,
	sanmar_mainframe_color, size, color_name, piece_price, original_filename,
	last_imported_at, import_metadata`

// ProductRepository persists products keyed by unique_key.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository constructs a repository.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Find returns the product for key or model.ErrNotFound.
func (r *ProductRepository) Find(ctx context.Context, key string) (*model.Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE unique_key=$1`, key)
	p, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("select product: %w", mapErr(err))
	}
	return p, nil
}

// Insert adds a new product. An existing key yields model.ErrDuplicateKey.
func (r *ProductRepository) Insert(ctx context.Context, p *model.Product) error {
	args, err := productArgs(p)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, args...)
	if err != nil {
		return fmt.Errorf("insert product: %w", mapErr(err))
	}
	return nil
}

// Update overwrites every column of an existing product; absent values are
// written as NULL.
func (r *ProductRepository) Update(ctx context.Context, p *model.Product) error {
	args, err := productArgs(p)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE products SET
			product_title=$2, product_description=$3, style_number=$4,
			sanmar_mainframe_color=$5, size=$6, color_name=$7, piece_price=$8,
			original_filename=$9, last_imported_at=$10, import_metadata=$11
		WHERE unique_key=$1
	`, args...)
	if err != nil {
		return fmt.Errorf("update product: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update product %s: %w", p.UniqueKey, model.ErrNotFound)
	}
	return nil
}

// Stats aggregates the product table in one query.
func (r *ProductRepository) Stats(ctx context.Context, recent time.Duration) (model.ProductStats, error) {
	var (
		st               model.ProductStats
		minP, maxP, avgP *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE last_imported_at > $1),
			COUNT(DISTINCT style_number),
			MIN(piece_price)::text,
			MAX(piece_price)::text,
			ROUND(AVG(piece_price), 2)::text,
			MAX(last_imported_at)
		FROM products
	`, time.Now().UTC().Add(-recent)).Scan(
		&st.TotalProducts, &st.RecentlyImported, &st.UniqueStyles,
		&minP, &maxP, &avgP, &st.LastImport,
	)
	if err != nil {
		return st, fmt.Errorf("product stats: %w", err)
	}
	for _, f := range []struct {
		src *string
		dst *decimal.NullDecimal
	}{{minP, &st.MinPrice}, {maxP, &st.MaxPrice}, {avgP, &st.AvgPrice}} {
		if *f.dst, err = nullDecimal(f.src); err != nil {
			return st, fmt.Errorf("product stats: %w", err)
		}
	}
	return st, nil
}

func productArgs(p *model.Product) ([]any, error) {
	var metadata []byte
	if p.ImportMetadata != nil {
		var err error
		if metadata, err = json.Marshal(p.ImportMetadata); err != nil {
			return nil, fmt.Errorf("encode import metadata: %w", err)
		}
	}
	var price *string
	if p.PiecePrice.Valid {
		s := p.PiecePrice.Decimal.StringFixed(2)
		price = &s
	}
	var filename *string
	if p.OriginalFilename != "" {
		filename = &p.OriginalFilename
	}
	return []any{
		p.UniqueKey, p.Title, p.Description, p.StyleNumber, p.MainframeColor,
		p.Size, p.ColorName, price, filename, p.LastImportedAt.UTC(), metadata,
	}, nil
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p        model.Product
		price    *string
		filename *string
		metadata []byte
	)
	if err := row.Scan(&p.UniqueKey, &p.Title, &p.Description, &p.StyleNumber, &p.MainframeColor,
		&p.Size, &p.ColorName, &price, &filename, &p.LastImportedAt, &metadata); err != nil {
		return nil, err
	}
	var err error
	if p.PiecePrice, err = nullDecimal(price); err != nil {
		return nil, err
	}
	if filename != nil {
		p.OriginalFilename = *filename
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.ImportMetadata); err != nil {
			return nil, fmt.Errorf("decode import metadata: %w", err)
		}
	}
	return &p, nil
}

func nullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse numeric %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}
