package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory table that evaluates the handful of condition
// and update expressions the Client issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	getErr    error
	putErr    error
	updateErr error
	queryErr  error
	txErr     error
	pageSize  int
	beforePut func(f *fakeDynamo)

	putCalls        int
	lastGetInput    *dynamodb.GetItemInput
	lastPutInput    *dynamodb.PutItemInput
	lastUpdateInput *dynamodb.UpdateItemInput
	lastQueryIn     *dynamodb.QueryInput
	lastTxInput     *dynamodb.TransactWriteItemsInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func storageKey(item map[string]types.AttributeValue) string {
	return attrS(item["PK"]) + "|" + attrS(item["SK"])
}

func attrS(v types.AttributeValue) string {
	if sv, ok := v.(*types.AttributeValueMemberS); ok {
		return sv.Value
	}
	return ""
}

func attrN(v types.AttributeValue) int {
	if nv, ok := v.(*types.AttributeValueMemberN); ok {
		i, _ := strconv.Atoi(nv.Value)
		return i
	}
	return 0
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// seed stores an item directly, bypassing conditions.
func (f *fakeDynamo) seed(item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[storageKey(item)] = copyItem(item)
}

func (f *fakeDynamo) get(pk, sk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[pk+"|"+sk]
}

func (f *fakeDynamo) checkCondition(cond *string, values map[string]types.AttributeValue, existing map[string]types.AttributeValue) bool {
	if cond == nil {
		return true
	}
	switch *cond {
	case "attribute_not_exists(PK)":
		return existing == nil
	case "attribute_exists(PK)":
		return existing != nil
	case "attribute_not_exists(PK) OR botId = :botId":
		return existing == nil || attrS(existing["botId"]) == attrS(values[":botId"])
	case "#version = :version":
		_, has := existing["version"]
		return existing != nil && has && attrN(existing["version"]) == attrN(values[":version"])
	case "attribute_exists(PK) AND attribute_not_exists(#version)":
		_, has := existing["version"]
		return existing != nil && !has
	}
	panic(fmt.Sprintf("fakeDynamo: unsupported condition %q", *cond))
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGetInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	item, ok := f.items[storageKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.beforePut != nil {
		f.beforePut(f)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	f.lastPutInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := storageKey(in.Item)
	if !f.checkCondition(in.ConditionExpression, in.ExpressionAttributeValues, f.items[key]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[key] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdateInput = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	key := storageKey(in.Key)
	if !f.checkCondition(in.ConditionExpression, in.ExpressionAttributeValues, f.items[key]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	switch aws.ToString(in.UpdateExpression) {
	case "SET selectedBots = :sel":
		item := copyItem(f.items[key])
		item["selectedBots"] = in.ExpressionAttributeValues[":sel"]
		f.items[key] = item
	case "ADD conversationsToday :one SET updatedAt = :now":
		item := copyItem(in.Key)
		if existing, ok := f.items[key]; ok {
			item = copyItem(existing)
		}
		item["conversationsToday"] = numValue(attrN(item["conversationsToday"]) + attrN(in.ExpressionAttributeValues[":one"]))
		item["updatedAt"] = in.ExpressionAttributeValues[":now"]
		f.items[key] = item
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQueryIn = in
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var matched []map[string]types.AttributeValue
	for _, k := range keys {
		item := f.items[k]
		if in.IndexName != nil {
			attr := in.ExpressionAttributeNames["#num"]
			if v, ok := item[attr]; ok && attrS(v) == attrS(in.ExpressionAttributeValues[":num"]) {
				matched = append(matched, copyItem(item))
			}
			continue
		}
		pk := attrS(in.ExpressionAttributeValues[":pk"])
		prefix := attrS(in.ExpressionAttributeValues[":prefix"])
		sk := attrS(item["SK"])
		if attrS(item["PK"]) == pk && len(sk) >= len(prefix) && sk[:len(prefix)] == prefix {
			matched = append(matched, copyItem(item))
		}
	}

	if in.ExclusiveStartKey != nil {
		start := storageKey(in.ExclusiveStartKey)
		for i, item := range matched {
			if storageKey(item) == start {
				matched = matched[i+1:]
				break
			}
		}
	}
	limit := len(matched)
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	out := &dynamodb.QueryOutput{}
	if f.pageSize > 0 && f.pageSize < limit {
		limit = f.pageSize
		last := matched[limit-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	out.Items = matched[:limit]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTxInput = in
	if f.txErr != nil {
		return nil, f.txErr
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		if ti.Put == nil {
			continue
		}
		if !f.checkCondition(ti.Put.ConditionExpression, ti.Put.ExpressionAttributeValues, f.items[storageKey(ti.Put.Item)]) {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[storageKey(ti.Put.Item)] = copyItem(ti.Put.Item)
		case ti.Delete != nil:
			delete(f.items, storageKey(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
