package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/vote-relay/internal/domain"
)

// DelegateRepo is the known-user directory backed by the delegates table.
type DelegateRepo struct {
	client    API
	tableName string
}

func NewDelegateRepo(client API, tableName string) *DelegateRepo {
	return &DelegateRepo{client: client, tableName: tableName}
}

func (r *DelegateRepo) Put(ctx context.Context, d *domain.Delegate) error {
	d.Address = domain.NormalizeAddress(d.Address)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = time.Now().UTC()
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("marshal delegate: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *DelegateRepo) GetByAddress(ctx context.Context, address string) (*domain.Delegate, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldAddress, domain.NormalizeAddress(address)),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("delegate %s: %w", address, domain.ErrNotFound)
	}
	var d domain.Delegate
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AllAddresses scans the table projecting only the address attribute.
func (r *DelegateRepo) AllAddresses(ctx context.Context) ([]string, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                aws.String(r.tableName),
		ProjectionExpression:     aws.String("#a"),
		ExpressionAttributeNames: map[string]string{"#a": fieldAddress},
	})
	var addresses []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan delegates: %w", err)
		}
		for _, item := range page.Items {
			if v, ok := item[fieldAddress].(*types.AttributeValueMemberS); ok && v.Value != "" {
				addresses = append(addresses, v.Value)
			}
		}
	}
	return addresses, nil
}
